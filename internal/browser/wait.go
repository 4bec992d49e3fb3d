// internal/browser/wait.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSuccessNotReached is returned when the page never reaches the success URL.
var ErrSuccessNotReached = errors.New("success URL not reached")

// URLReader returns the page's current URL.
type URLReader func(ctx context.Context) (string, error)

// WaitForURLPrefix polls read every poll until the URL starts with prefix or
// timeout elapses. A failed read stops polling and is returned.
func WaitForURLPrefix(ctx context.Context, read URLReader, prefix string, timeout, poll time.Duration) (string, error) {
	if poll <= 0 {
		return "", fmt.Errorf("poll interval must be positive, got %s", poll)
	}
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(0)
	defer timer.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timer.C:
		}

		current, err := read(ctx)
		if err != nil {
			return last, fmt.Errorf("failed to read current URL: %w", err)
		}
		last = current
		if strings.HasPrefix(current, prefix) {
			return current, nil
		}

		if !time.Now().Add(poll).Before(deadline) {
			return last, fmt.Errorf("%w after %s (last URL %q)", ErrSuccessNotReached, timeout, last)
		}
		timer.Reset(poll)
	}
}
