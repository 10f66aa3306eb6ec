package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// PanicError is returned by Run when the task panicked
type PanicError struct {
	Task  string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Task, e.Value)
}

// Run executes fn on the calling goroutine with a timeout. A panic inside fn
// is recovered and returned as a *PanicError; errors are logged with the task
// name and returned.
//
// Example:
//
//	err := async.Run(ctx, logger, 5*time.Minute, "expire due", func(ctx context.Context) error {
//	    _, err := manager.ExpireDue(ctx)
//	    return err
//	})
func Run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	ctx := parentCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Task: taskName, Value: r, Stack: debug.Stack()}
			logger.WithFields(map[string]interface{}{
				"task":  taskName,
				"panic": fmt.Sprintf("%v", r),
				"stack": string(perr.Stack),
			}).Error("task panicked")
			err = perr
		}
	}()

	start := time.Now()
	if err = fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Error("task failed")
		return err
	}
	logger.WithFields(map[string]interface{}{
		"task":        taskName,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("task completed")
	return nil
}

// SafeGo is Run on a new goroutine. The returned channel receives the result
// once and is then closed.
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- Run(parentCtx, logger, timeout, taskName, fn)
	}()
	return done
}
