package pdfmerge

import "go.uber.org/fx"

var Module = fx.Module("pdfmerge",
	fx.Provide(New),
)
