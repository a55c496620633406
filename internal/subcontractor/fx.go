package subcontractor

import (
	"github.com/sitebooks/sitebooks/internal/subcontractor/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subcontractor.service",
	fx.Provide(service.NewService),
)
