package project

import (
	"github.com/sitebooks/sitebooks/internal/project/service"
	"go.uber.org/fx"
)

var Module = fx.Module("project.service",
	fx.Provide(service.NewService),
)
