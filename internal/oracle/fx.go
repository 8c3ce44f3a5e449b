package oracle

import (
	"github.com/smallbiznis/feedlink/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("oracle",
	fx.Provide(func(cfg config.Config) *Client { return NewClient(cfg.Oracle) }),
	fx.Provide(func(c *Client) Generator { return c }),
)
