package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sitebooks/sitebooks/internal/approval"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
	rundomain "github.com/sitebooks/sitebooks/internal/paymentrun/domain"
	"github.com/sitebooks/sitebooks/internal/providers/docai"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorStatusCodes(t *testing.T) {
	tests := []struct {
		err    error
		status int
		typ    string
	}{
		{invoicedomain.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "unsupported_media_type"},
		{invoicedomain.ErrDocumentTooLarge, http.StatusRequestEntityTooLarge, "document_too_large"},
		{invoicedomain.ErrEmptyDocument, http.StatusBadRequest, "validation_error"},
		{invoicedomain.ErrUnmatchedPayee, http.StatusUnprocessableEntity, "unmatched_payee"},
		{docai.ErrUnreadableDocument, http.StatusUnprocessableEntity, "extraction_failed"},
		{docai.ErrProviderUnavailable, http.StatusServiceUnavailable, "extraction_unavailable"},
		{invoicedomain.ErrDuplicateInvoiceNumber, http.StatusConflict, "duplicate_invoice_number"},
		{approval.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{invoicedomain.ErrCorrectionLocked, http.StatusConflict, "correction_locked"},
		{rundomain.ErrRunCompletionConflict, http.StatusConflict, "run_completion_conflict"},
		{rundomain.ErrRunNotDraft, http.StatusConflict, "conflict"},
		{subdomain.ErrDuplicateUTR, http.StatusConflict, "duplicate_utr"},
		{invoicedomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{subdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{errors.New("database exploded"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.typ+"_"+tc.err.Error(), func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}
}

func TestMapErrorUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("complete run: %w", rundomain.ErrRunCompletionConflict)
	status, payload := mapError(wrapped)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "run_completion_conflict", payload.Type)
}

func TestMapErrorValidationPayload(t *testing.T) {
	status, payload := mapError(newValidationError("amount", "invalid", "amount must be positive"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload.Type)
	assert.Len(t, payload.Errors, 1)
	assert.Equal(t, "amount", payload.Errors[0].Field)
}
