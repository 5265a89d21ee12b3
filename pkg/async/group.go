package async

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Group runs fire-and-forget tasks. Each task gets its own timeout, panics
// are recovered and logged, and errors are logged and dropped. Wait lets
// shutdown drain tasks still in flight.
type Group struct {
	logger  *observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGroup creates a group whose tasks are cancelled after timeout
func NewGroup(logger *observability.Logger, timeout time.Duration) *Group {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Group{logger: logger, timeout: timeout}
}

// Go starts fn in the background. The context passed to fn is detached from
// any request so the task outlives the handler that started it.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer observability.RecoverPanic(g.logger, name)

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			g.logger.WithError(err).WithField("task", name).Warn("background task failed")
		}
	}()
}

// Wait blocks until every started task has returned
func (g *Group) Wait() {
	g.wg.Wait()
}

// WaitContext is Wait bounded by ctx
func (g *Group) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
