package results

import (
	"fmt"
	"os"
	"sync"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// Recorder appends successful items to the output file, one per line. It is
// safe for concurrent use by the tasks of a group.
type Recorder struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewRecorder creates a recorder writing to path ("~" is expanded).
func NewRecorder(path string, logger *zap.Logger) (*Recorder, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand output path %s: %w", path, err)
	}
	return &Recorder{path: expanded, logger: logger.Named("recorder")}, nil
}

// Record appends item. A failed write is logged and otherwise ignored; the
// item itself still counts as a success.
func (r *Recorder) Record(item string) {
	if err := r.append(item); err != nil {
		r.logger.Warn("Unable to write to output file", zap.String("path", r.path), zap.String("item", item), zap.Error(err))
		return
	}
	r.logger.Info("Saved item to output", zap.String("item", item))
}

func (r *Recorder) append(item string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(item + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Path is the expanded output file path.
func (r *Recorder) Path() string { return r.path }
