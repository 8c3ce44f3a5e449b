package ingestion

import (
	"github.com/smallbiznis/feedlink/internal/pdfmerge"
	"go.uber.org/fx"
)

var Module = fx.Module("ingestion",
	fx.Provide(func(e *pdfmerge.Engine) Merger { return e }),
	fx.Provide(New),
)
