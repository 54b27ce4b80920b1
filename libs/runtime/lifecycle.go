package runtime

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ShutdownStep is one component to stop when the process exits.
type ShutdownStep struct {
	Name string
	Stop func(context.Context) error
}

// Shutdown runs steps in order under a shared deadline. Every step runs even if an
// earlier one fails; the first error is returned.
func Shutdown(logger *slog.Logger, timeout time.Duration, steps ...ShutdownStep) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var first error
	for _, step := range steps {
		if step.Stop == nil {
			continue
		}
		if err := step.Stop(ctx); err != nil {
			if logger != nil {
				logger.Error("shutdown step failed", "step", step.Name, "err", err)
			}
			if first == nil {
				first = err
			}
			continue
		}
		if logger != nil {
			logger.Info("stopped", "step", step.Name)
		}
	}
	return first
}
