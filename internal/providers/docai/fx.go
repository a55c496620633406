package docai

import (
	"github.com/sitebooks/sitebooks/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.docai",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Extractor {
	switch cfg.Extraction.Provider {
	case "stub":
		return NewStub()
	default:
		return NewOpenAI(OpenAIConfig{
			APIKey:       cfg.Extraction.OpenAIAPIKey,
			Model:        cfg.Extraction.OpenAIModel,
			Timeout:      cfg.Extraction.Timeout,
			Retries:      cfg.Extraction.Retries,
			RetryBackoff: cfg.Extraction.RetryBackoff,
		}, log)
	}
}
