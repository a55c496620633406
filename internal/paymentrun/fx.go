package paymentrun

import (
	"github.com/sitebooks/sitebooks/internal/paymentrun/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentrun.service",
	fx.Provide(service.NewService),
)
