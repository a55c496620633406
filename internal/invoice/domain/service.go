package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/approval"
)

// SubmitRequest carries one document into the pipeline, regardless of
// channel. Exactly one of SubcontractorID (upload) or Sender (email) is
// expected to resolve the payee.
type SubmitRequest struct {
	Document []byte
	MIMEType string
	Channel  SourceChannel
	// Sender is the originating address on the email channel, and doubles
	// as the idempotency discriminator.
	Sender          string
	SubcontractorID string
	ProjectID       string
	Actor           string
}

// SubmitResult reports the created (or replayed) invoice.
type SubmitResult struct {
	Invoice *Invoice
	// Created is false when the idempotency key matched an existing
	// invoice and nothing new was persisted.
	Created bool
}

type TransitionRequest struct {
	ID     string
	Actor  string
	Reason string
}

type CorrectionRequest struct {
	ID     string
	Amount decimal.Decimal
	Actor  string
	Reason string
}

type ListRequest struct {
	Status          *approval.Status
	SubcontractorID string
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Approve(ctx context.Context, req TransitionRequest) (*Invoice, error)
	Reject(ctx context.Context, req TransitionRequest) (*Invoice, error)
	MarkUnderReview(ctx context.Context, req TransitionRequest) (*Invoice, error)
	Correct(ctx context.Context, req CorrectionRequest) (*Invoice, error)
	Rescore(ctx context.Context, id, actor string) (*Invoice, error)
	Get(ctx context.Context, id string) (*Invoice, error)
	List(ctx context.Context, req ListRequest) ([]Invoice, error)
}

var (
	ErrNotFound               = errors.New("invoice_not_found")
	ErrUnsupportedMediaType   = errors.New("unsupported_media_type")
	ErrDocumentTooLarge       = errors.New("document_too_large")
	ErrEmptyDocument          = errors.New("empty_document")
	ErrUnmatchedPayee         = errors.New("unmatched_payee")
	ErrDuplicateInvoiceNumber = errors.New("duplicate_invoice_number")
	ErrReasonRequired         = errors.New("reason_required")
	ErrCorrectionLocked       = errors.New("correction_locked")
	ErrInvalidAmount          = errors.New("invalid_amount")
)
