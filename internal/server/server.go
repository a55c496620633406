// Package server exposes the intake pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/sitebooks/sitebooks/internal/audit/domain"
	"github.com/sitebooks/sitebooks/internal/config"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
	rundomain "github.com/sitebooks/sitebooks/internal/paymentrun/domain"
	projectdomain "github.com/sitebooks/sitebooks/internal/project/domain"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewEngine(log *zap.Logger, registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	SubSvc     subdomain.Service
	ProjectSvc projectdomain.Service
	RunSvc     rundomain.Service
	AuditSvc   auditdomain.Recorder
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	invoiceSvc invoicedomain.Service
	subSvc     subdomain.Service
	projectSvc projectdomain.Service
	runSvc     rundomain.Service
	auditSvc   auditdomain.Recorder
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		invoiceSvc: p.InvoiceSvc,
		subSvc:     p.SubSvc,
		projectSvc: p.ProjectSvc,
		runSvc:     p.RunSvc,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/invoices/upload", s.UploadInvoice)
	v1.POST("/inbound/email", s.InboundEmail)
	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/invoices/:id", s.GetInvoice)
	v1.POST("/invoices/:id/approve", s.ApproveInvoice)
	v1.POST("/invoices/:id/reject", s.RejectInvoice)
	v1.POST("/invoices/:id/review", s.ReviewInvoice)
	v1.POST("/invoices/:id/correct", s.CorrectInvoice)
	v1.POST("/invoices/:id/rescore", s.RescoreInvoice)

	v1.POST("/subcontractors", s.CreateSubcontractor)
	v1.GET("/subcontractors", s.ListSubcontractors)
	v1.GET("/subcontractors/:id", s.GetSubcontractor)
	v1.POST("/subcontractors/:id/verification", s.RecordVerification)
	v1.POST("/subcontractors/:id/deletion", s.ScheduleDeletion)
	v1.DELETE("/subcontractors/:id/deletion", s.CancelDeletion)

	v1.POST("/projects", s.CreateProject)
	v1.GET("/projects", s.ListProjects)
	v1.GET("/projects/:id", s.GetProject)

	v1.POST("/payment-runs", s.BuildPaymentRun)
	v1.GET("/payment-runs", s.ListPaymentRuns)
	v1.GET("/payment-runs/:id", s.GetPaymentRun)
	v1.POST("/payment-runs/:id/invoices/:invoiceId", s.AttachInvoice)
	v1.DELETE("/payment-runs/:id/invoices/:invoiceId", s.DetachInvoice)
	v1.POST("/payment-runs/:id/ready", s.MarkRunReady)
	v1.GET("/payment-runs/:id/export", s.ExportPaymentRun)
	v1.POST("/payment-runs/:id/complete", s.CompletePaymentRun)

	v1.GET("/reports/cis-return", s.MonthlyRollup)
	v1.GET("/audit-logs", s.ListAuditLogs)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// actor resolves the acting identity from the request. Authentication is
// handled upstream; this service only records who acted.
func actor(c *gin.Context) string {
	if v := c.GetHeader("X-Actor"); v != "" {
		return v
	}
	return "user:unknown"
}
