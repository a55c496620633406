package invoice

import (
	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/approval"
	"github.com/sitebooks/sitebooks/internal/config"
	"github.com/sitebooks/sitebooks/internal/invoice/service"
	"github.com/sitebooks/sitebooks/internal/risk"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(provideScorer),
	fx.Provide(providePolicy),
	fx.Provide(service.NewService),
)

func provideScorer(cfg config.Config) *risk.Scorer {
	return risk.NewScorer(risk.Config{
		LowConfidenceThreshold: cfg.Pipeline.LowConfidenceThreshold,
		PriceDeviationMultiple: cfg.Pipeline.PriceDeviationMultiple,
		NewPayeeInvoiceCount:   cfg.Pipeline.NewPayeeInvoiceCount,
	})
}

func providePolicy(cfg config.Config) approval.Policy {
	policy := approval.DefaultPolicy()
	if cfg.Pipeline.AutoApproveMaxRisk > 0 {
		policy.MaxRisk = cfg.Pipeline.AutoApproveMaxRisk
	}
	if cfg.Pipeline.AutoApproveMinHistory > 0 {
		policy.MinHistory = cfg.Pipeline.AutoApproveMinHistory
	}
	if maxAmount, err := decimal.NewFromString(cfg.Pipeline.AutoApproveMaxAmount); err == nil && maxAmount.IsPositive() {
		policy.MaxAmount = maxAmount
	}
	return policy
}
