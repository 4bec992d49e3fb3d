// Package results records, summarizes and persists the outcome of a batch run.
package results

import (
	"time"

	"github.com/xkilldash9x/batchrun/internal/runner"
)

// ItemResult is the persisted verdict of one work item.
type ItemResult struct {
	Item       string `json:"item"`
	Group      int    `json:"group"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// RunRecord describes a completed run.
type RunRecord struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	BatchSize  int          `json:"batch_size"`
	PoolSize   int          `json:"pool_size"`
	Successes  []string     `json:"successes"`
	Failures   []string     `json:"failures"`
	Results    []ItemResult `json:"results"`
}

// NewRunRecord converts a runner report into a RunRecord. Times are stored in UTC.
func NewRunRecord(id string, started, finished time.Time, batchSize, poolSize int, report *runner.BatchReport) RunRecord {
	rec := RunRecord{
		ID:         id,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		BatchSize:  batchSize,
		PoolSize:   poolSize,
		Successes:  append([]string{}, report.Successes...),
		Failures:   append([]string{}, report.Failures...),
		Results:    make([]ItemResult, 0, len(report.Results)),
	}
	for _, r := range report.Results {
		ir := ItemResult{
			Item:       r.Item,
			Group:      r.Group,
			Success:    r.Success,
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			ir.Error = r.Err.Error()
		}
		rec.Results = append(rec.Results, ir)
	}
	return rec
}
