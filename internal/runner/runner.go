// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkItem is one unit of batch work. The runner never looks inside it.
type WorkItem = string

var (
	// ErrNoItems is returned when there is nothing to run.
	ErrNoItems = errors.New("no work items")
	// ErrInvalidBatchSize is returned when the batch size is below one.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
	// ErrNilTask is returned when no task function is supplied.
	ErrNilTask = errors.New("task function is nil")
	// ErrTaskPanicked marks a failure caused by a panic inside a task.
	ErrTaskPanicked = errors.New("task panicked")
)

// ConfigurationError is the only error Run returns. It is raised before any
// task is dispatched.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "runner configuration: " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// TaskFunc runs one work item. aux is nil when the auxiliary pool is empty.
// Tasks of a group run concurrently; aux must not be shared state the task
// writes to.
// A nil return is a success; anything else is a failure.
type TaskFunc[A any] func(ctx context.Context, item WorkItem, aux *A) error

// Selector picks the auxiliary value handed to one task. It must return nil
// for an empty pool and must not modify the pool.
type Selector[A any] func(pool []A) *A

// UniformSelector picks a pool entry uniformly at random. Entries may repeat
// across items and some may never be chosen. Each call returns a copy of the
// entry, so tasks never alias the pool or each other.
func UniformSelector[A any](pool []A) *A {
	if len(pool) == 0 {
		return nil
	}
	v := pool[rand.IntN(len(pool))]
	return &v
}

// TaskResult is the verdict for a single item.
type TaskResult struct {
	Item     WorkItem
	Group    int
	Success  bool
	Err      error
	Duration time.Duration
}

// BatchReport accumulates verdicts across all groups. Order is group order,
// then position within the group.
type BatchReport struct {
	Successes []WorkItem
	Failures  []WorkItem
	Results   []TaskResult
}

func (r *BatchReport) add(res TaskResult) {
	r.Results = append(r.Results, res)
	if res.Success {
		r.Successes = append(r.Successes, res.Item)
	} else {
		r.Failures = append(r.Failures, res.Item)
	}
}

// Total is the number of items that have settled.
func (r *BatchReport) Total() int { return len(r.Results) }

// Observer receives group lifecycle events. Calls happen on the goroutine
// running Run, never concurrently.
type Observer interface {
	GroupStarted(index int, items []WorkItem)
	GroupFinished(index int, results []TaskResult)
}

type options[A any] struct {
	selector Selector[A]
	logger   *zap.Logger
	observer Observer
}

// Option customizes a Run call.
type Option[A any] func(*options[A])

// WithSelector replaces UniformSelector.
func WithSelector[A any](s Selector[A]) Option[A] {
	return func(o *options[A]) {
		if s != nil {
			o.selector = s
		}
	}
}

// WithLogger sets the logger used for group and item progress.
func WithLogger[A any](l *zap.Logger) Option[A] {
	return func(o *options[A]) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a group lifecycle observer.
func WithObserver[A any](obs Observer) Option[A] {
	return func(o *options[A]) { o.observer = obs }
}

// Partition splits items into contiguous groups of at most size elements,
// preserving order. Only the last group may be shorter. size must be >= 1.
func Partition[T any](items []T, size int) [][]T {
	if size < 1 {
		panic("runner: partition size must be at least 1")
	}
	groups := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		groups = append(groups, items[start:end:end])
	}
	return groups
}

// Run executes task for every item, batchSize items at a time. All tasks of
// a group run concurrently and the next group starts only after every task
// of the current one has returned. Task errors and panics are recorded as
// failures; the only error returned is a *ConfigurationError.
//
// Run never cancels a dispatched task. ctx is passed through unchanged, so a
// task that honors cancellation will fail fast once ctx is done.
func Run[A any](ctx context.Context, items []WorkItem, pool []A, batchSize int, task TaskFunc[A], opts ...Option[A]) (*BatchReport, error) {
	if len(items) == 0 {
		return nil, &ConfigurationError{Err: ErrNoItems}
	}
	if batchSize < 1 {
		return nil, &ConfigurationError{Err: fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)}
	}
	if task == nil {
		return nil, &ConfigurationError{Err: ErrNilTask}
	}

	o := options[A]{selector: UniformSelector[A], logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("component", "runner"))

	groups := Partition(items, batchSize)
	report := &BatchReport{
		Successes: make([]WorkItem, 0, len(items)),
		Failures:  make([]WorkItem, 0),
		Results:   make([]TaskResult, 0, len(items)),
	}

	logger.Info("Starting batch run",
		zap.Int("items", len(items)),
		zap.Int("pool", len(pool)),
		zap.Int("batch_size", batchSize),
		zap.Int("groups", len(groups)),
	)

	for gi, group := range groups {
		if o.observer != nil {
			o.observer.GroupStarted(gi, group)
		}
		logger.Info("Starting group",
			zap.Int("group", gi),
			zap.Strings("items", group),
		)

		results := runGroup(ctx, gi, group, pool, task, o.selector, logger)
		for _, res := range results {
			report.add(res)
		}

		if o.observer != nil {
			o.observer.GroupFinished(gi, results)
		}
	}

	logger.Info("Batch run finished",
		zap.Int("succeeded", len(report.Successes)),
		zap.Int("failed", len(report.Failures)),
	)
	return report, nil
}

// runGroup fans the group out and waits for every task to settle. Results are
// returned in group order regardless of completion order.
func runGroup[A any](ctx context.Context, gi int, group []WorkItem, pool []A, task TaskFunc[A], selector Selector[A], logger *zap.Logger) []TaskResult {
	results := make([]TaskResult, len(group))

	// Goroutines always return nil so the group never short-circuits.
	var g errgroup.Group
	for i, item := range group {
		aux := selector(pool)
		g.Go(func() error {
			results[i] = invoke(ctx, gi, item, aux, task, logger)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// invoke runs a single task and converts any error or panic into a failed result.
func invoke[A any](ctx context.Context, gi int, item WorkItem, aux *A, task TaskFunc[A], logger *zap.Logger) (res TaskResult) {
	start := time.Now()
	res = TaskResult{Item: item, Group: gi}

	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
			logger.Error("Task panicked",
				zap.String("item", item),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := task(ctx, item, aux); err != nil {
		res.Err = err
		logger.Warn("Task failed", zap.String("item", item), zap.Error(err))
		return res
	}
	res.Success = true
	logger.Debug("Task succeeded", zap.String("item", item))
	return res
}
