package qrpage

import "go.uber.org/fx"

var Module = fx.Module("qrpage",
	fx.Provide(New),
)
