// Package docai adapts external document-understanding capabilities into a
// typed extraction contract. Providers are pure transformation boundaries:
// they never persist state.
package docai

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Document is the raw submitted file.
type Document struct {
	Bytes    []byte
	MIMEType string
}

// Context gives the provider hints about the expected payee.
type Context struct {
	SubcontractorID   string
	SubcontractorName string
}

type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Result is the structured reading of an invoice document.
type Result struct {
	InvoiceNumber string           `json:"invoice_number"`
	IssueDate     time.Time        `json:"issue_date"`
	DueDate       *time.Time       `json:"due_date,omitempty"`
	SupplierName  string           `json:"supplier_name"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	VATAmount     *decimal.Decimal `json:"vat_amount,omitempty"`
	LineItems     []LineItem       `json:"line_items"`
	// Confidence is the provider's overall certainty in [0,1].
	Confidence float64 `json:"confidence"`
}

// Extractor turns document bytes into a structured Result. A hard failure
// means no invoice may be created from the document.
type Extractor interface {
	Extract(ctx context.Context, doc Document, ectx Context) (*Result, error)
}

var (
	ErrUnreadableDocument  = errors.New("unreadable_document")
	ErrUnsupportedFormat   = errors.New("unsupported_format")
	ErrProviderUnavailable = errors.New("extraction_provider_unavailable")
)
