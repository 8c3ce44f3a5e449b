package reclaimer

import (
	"context"

	"github.com/smallbiznis/feedlink/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("reclaimer",
	fx.Provide(ProvideConfig),
	fx.Provide(provideLock),
	fx.Provide(New),
)

func provideLock(l *ratelimit.Locker) SweepLock {
	if l == nil {
		return nil
	}
	return l
}

// Loop runs the sweep in the background for the lifetime of the app.
var Loop = fx.Invoke(StartLoop)

func StartLoop(lc fx.Lifecycle, cfg Config, r *Reclaimer) {
	if !cfg.Enabled {
		r.log.Info("reclaimer.disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				r.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
