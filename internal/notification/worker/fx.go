package worker

import (
	"context"

	"github.com/smallbiznis/tenantbill/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.worker",
	fx.Provide(New),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, cfg config.Config, w *Worker) {
	if !cfg.Notification.WorkerEnabled {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				w.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
