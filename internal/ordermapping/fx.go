package ordermapping

import (
	"github.com/smallbiznis/ordersync/internal/ordermapping/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("ordermapping.repository",
	fx.Provide(repository.Provide),
)
