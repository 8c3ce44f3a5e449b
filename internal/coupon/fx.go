package coupon

import (
	"github.com/smallbiznis/feedlink/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(service.New),
)
