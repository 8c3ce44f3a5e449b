package owner

import (
	"github.com/smallbiznis/feedlink/internal/owner/repository"
	"github.com/smallbiznis/feedlink/internal/owner/service"
	"go.uber.org/fx"
)

var Module = fx.Module("owner.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
