package domain

import (
	"context"
	"errors"
)

type CreateRequest struct {
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	UTR           string    `json:"utr"`
	CISStatus     CISStatus `json:"cis_status"`
	OverrideRate  *int      `json:"override_rate,omitempty"`
	AccountNumber string    `json:"account_number"`
	SortCode      string    `json:"sort_code"`
}

type VerificationRequest struct {
	ID           string    `json:"id"`
	CISStatus    CISStatus `json:"cis_status"`
	OverrideRate *int      `json:"override_rate,omitempty"`
	Actor        string    `json:"-"`
}

type ListRequest struct {
	Active *bool
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subcontractor, error)
	Get(ctx context.Context, id string) (*Subcontractor, error)
	GetByEmail(ctx context.Context, email string) (*Subcontractor, error)
	List(ctx context.Context, req ListRequest) ([]Subcontractor, error)
	RecordVerification(ctx context.Context, req VerificationRequest) (*Subcontractor, error)
	ScheduleDeletion(ctx context.Context, id, actor string) (*Subcontractor, error)
	CancelDeletion(ctx context.Context, id, actor string) (*Subcontractor, error)
}

var (
	ErrNotFound         = errors.New("subcontractor_not_found")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidUTR       = errors.New("invalid_utr")
	ErrInvalidStatus    = errors.New("invalid_cis_status")
	ErrInvalidRate      = errors.New("invalid_deduction_rate")
	ErrDuplicateUTR     = errors.New("duplicate_utr")
	ErrRetentionPending = errors.New("retention_pending")
)
