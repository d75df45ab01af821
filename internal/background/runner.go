// Package background runs detached units of work that must outlive the
// request that started them.
package background

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"mediagen/internal/infra"
)

// Runner starts detached goroutines, logs their failures and panics, and lets
// shutdown wait for them.
type Runner struct {
	logger infra.Logger
	wg     sync.WaitGroup
}

// NewRunner constructs a Runner.
func NewRunner(logger infra.Logger) *Runner {
	return &Runner{logger: logger.With().Str("component", "background").Logger()}
}

// Go runs fn on a context detached from ctx's cancellation but carrying its
// values. Errors and panics are logged under name.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.run(detached, fn); err != nil {
			r.logger.Error().Err(err).Str("unit", name).Msg("background unit failed")
		}
	}()
}

func (r *Runner) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started unit has returned or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
