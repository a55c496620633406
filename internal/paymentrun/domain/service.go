package domain

import (
	"context"
	"errors"
	"time"
)

type BuildRequest struct {
	ScheduledDate time.Time
	Actor         string
}

type Service interface {
	Build(ctx context.Context, req BuildRequest) (*PaymentRun, error)
	Attach(ctx context.Context, runID, invoiceID, actor string) (*PaymentRun, error)
	Detach(ctx context.Context, runID, invoiceID, actor string) (*PaymentRun, error)
	MarkReady(ctx context.Context, runID, actor string) (*PaymentRun, error)
	// Export renders the bank-transfer batch. Re-exporting the same run is
	// byte-identical.
	Export(ctx context.Context, runID, actor string) ([]byte, error)
	// Complete transitions every member invoice to PAID as one atomic
	// unit, or none at all.
	Complete(ctx context.Context, runID, actor string) (*PaymentRun, error)
	Get(ctx context.Context, runID string) (*PaymentRun, error)
	List(ctx context.Context) ([]PaymentRun, error)
	MonthlyRollup(ctx context.Context, year int, month time.Month) (*Rollup, error)
}

var (
	ErrNotFound              = errors.New("payment_run_not_found")
	ErrRunNotDraft           = errors.New("payment_run_not_draft")
	ErrRunNotReady           = errors.New("payment_run_not_ready")
	ErrRunCompletionConflict = errors.New("run_completion_conflict")
	ErrInvoiceNotEligible    = errors.New("invoice_not_eligible")
	ErrInvalidMonth          = errors.New("invalid_month")
)
