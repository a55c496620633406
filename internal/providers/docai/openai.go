package docai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const extractionPrompt = `You read UK construction subcontractor invoices.
Return ONLY a JSON object with these fields:
invoice_number (string), issue_date (YYYY-MM-DD), due_date (YYYY-MM-DD or null),
supplier_name (string), total_amount (number), vat_amount (number or null),
line_items (array of {description, amount}), confidence (number 0-1 reflecting
how certain you are the fields are correct).
The expected supplier is %q. Do not invent values; lower the confidence instead.`

// OpenAIConfig bounds calls to the OpenAI vision endpoint.
type OpenAIConfig struct {
	APIKey       string
	Model        string
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// OpenAIExtractor reads invoice documents with a vision-capable chat model.
type OpenAIExtractor struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig, log *zap.Logger) *OpenAIExtractor {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &OpenAIExtractor{
		client: openai.NewClient(cfg.APIKey),
		cfg:    cfg,
		log:    log.Named("docai.openai"),
	}
}

func (e *OpenAIExtractor) Extract(ctx context.Context, doc Document, ectx Context) (*Result, error) {
	if len(doc.Bytes) == 0 {
		return nil, ErrUnreadableDocument
	}

	var lastErr error
	attempts := e.cfg.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.RetryBackoff):
			}
			e.log.Info("retrying extraction", zap.Int("attempt", attempt+1))
		}

		result, err := e.extractOnce(ctx, doc, ectx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Only transport-level faults are retried. A document the model
		// could not read stays unreadable.
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func (e *OpenAIExtractor) extractOnce(ctx context.Context, doc Document, ectx Context) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	imageURL := fmt.Sprintf("data:%s;base64,%s", doc.MIMEType, base64.StdEncoding.EncodeToString(doc.Bytes))

	resp, err := e.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: e.cfg.Model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: fmt.Sprintf(extractionPrompt, ectx.SubcontractorName),
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrUnreadableDocument
	}

	return parsePayload(resp.Choices[0].Message.Content)
}

type extractionPayload struct {
	InvoiceNumber string   `json:"invoice_number"`
	IssueDate     string   `json:"issue_date"`
	DueDate       *string  `json:"due_date"`
	SupplierName  string   `json:"supplier_name"`
	TotalAmount   float64  `json:"total_amount"`
	VATAmount     *float64 `json:"vat_amount"`
	LineItems     []struct {
		Description string  `json:"description"`
		Amount      float64 `json:"amount"`
	} `json:"line_items"`
	Confidence float64 `json:"confidence"`
}

func parsePayload(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	if strings.TrimSpace(payload.InvoiceNumber) == "" || payload.TotalAmount <= 0 {
		return nil, ErrUnreadableDocument
	}

	issueDate, err := time.Parse("2006-01-02", payload.IssueDate)
	if err != nil {
		return nil, fmt.Errorf("%w: bad issue date %q", ErrUnreadableDocument, payload.IssueDate)
	}

	result := Result{
		InvoiceNumber: strings.TrimSpace(payload.InvoiceNumber),
		IssueDate:     issueDate,
		SupplierName:  strings.TrimSpace(payload.SupplierName),
		TotalAmount:   decimal.NewFromFloat(payload.TotalAmount).Round(2),
		Confidence:    clampConfidence(payload.Confidence),
	}
	if payload.DueDate != nil {
		if due, err := time.Parse("2006-01-02", *payload.DueDate); err == nil {
			result.DueDate = &due
		}
	}
	if payload.VATAmount != nil {
		vat := decimal.NewFromFloat(*payload.VATAmount).Round(2)
		result.VATAmount = &vat
	}
	for _, item := range payload.LineItems {
		result.LineItems = append(result.LineItems, LineItem{
			Description: strings.TrimSpace(item.Description),
			Amount:      decimal.NewFromFloat(item.Amount).Round(2),
		})
	}

	return &result, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), "openai call") {
		return true
	}
	return false
}
