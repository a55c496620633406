package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/sitebooks/sitebooks/internal/audit"
	auditdomain "github.com/sitebooks/sitebooks/internal/audit/domain"
	"github.com/sitebooks/sitebooks/internal/config"
	"github.com/sitebooks/sitebooks/internal/invoice"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
	"github.com/sitebooks/sitebooks/internal/observability"
	"github.com/sitebooks/sitebooks/internal/paymentrun"
	rundomain "github.com/sitebooks/sitebooks/internal/paymentrun/domain"
	"github.com/sitebooks/sitebooks/internal/project"
	projectdomain "github.com/sitebooks/sitebooks/internal/project/domain"
	"github.com/sitebooks/sitebooks/internal/providers/docai"
	"github.com/sitebooks/sitebooks/internal/providers/email"
	"github.com/sitebooks/sitebooks/internal/server"
	"github.com/sitebooks/sitebooks/internal/subcontractor"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
	"github.com/sitebooks/sitebooks/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,

		audit.Module,
		subcontractor.Module,
		project.Module,
		docai.Module,
		email.Module,
		invoice.Module,
		paymentrun.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(AutoMigrate),
		fx.Invoke(func(s *server.Server) {
			s.RegisterRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&subdomain.Subcontractor{},
		&projectdomain.Project{},
		&invoicedomain.Invoice{},
		&rundomain.PaymentRun{},
		&auditdomain.AuditLog{},
	)
}
