package extraction

import (
	"github.com/smallbiznis/feedlink/internal/config"
	"github.com/smallbiznis/feedlink/internal/oracle"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("extraction",
	fx.Provide(provide),
)

func provide(cfg config.Config, gen oracle.Generator, log *zap.Logger) Extractor {
	if cfg.Oracle.Backend == "static" {
		log.Warn("extraction.static_backend", zap.String("identifier", cfg.Oracle.StaticIdentifier))
		return Static{Output: cfg.Oracle.StaticIdentifier}
	}
	return NewOracleExtractor(gen)
}
