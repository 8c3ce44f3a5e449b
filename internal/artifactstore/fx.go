package artifactstore

import (
	"context"
	"fmt"

	"github.com/smallbiznis/feedlink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("artifactstore",
	fx.Provide(provide),
)

func provide(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		log.Warn("artifactstore.memory_backend")
		return NewMemoryStore(cfg.Storage.Bucket), nil
	case "minio", "s3", "":
		store, err := NewMinioStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := store.EnsureBucket(ctx); err != nil {
					return err
				}
				log.Info("artifactstore.bucket_ready", zap.String("bucket", cfg.Storage.Bucket))
				return nil
			},
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}
