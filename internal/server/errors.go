package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sitebooks/sitebooks/internal/approval"
	invoicedomain "github.com/sitebooks/sitebooks/internal/invoice/domain"
	rundomain "github.com/sitebooks/sitebooks/internal/paymentrun/domain"
	projectdomain "github.com/sitebooks/sitebooks/internal/project/domain"
	"github.com/sitebooks/sitebooks/internal/providers/docai"
	subdomain "github.com/sitebooks/sitebooks/internal/subcontractor/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// mapError translates domain errors into specific, actionable responses. A
// rejected submission never surfaces as a generic failure.
func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, invoicedomain.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, errorPayload{
			Type:    "unsupported_media_type",
			Message: "only PDF, PNG and JPEG documents are accepted",
		}
	case errors.Is(err, invoicedomain.ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "document_too_large",
			Message: "the document exceeds the upload size limit",
		}
	case errors.Is(err, invoicedomain.ErrEmptyDocument),
		errors.Is(err, invoicedomain.ErrReasonRequired),
		errors.Is(err, invoicedomain.ErrInvalidAmount),
		errors.Is(err, subdomain.ErrInvalidName),
		errors.Is(err, subdomain.ErrInvalidUTR),
		errors.Is(err, subdomain.ErrInvalidStatus),
		errors.Is(err, subdomain.ErrInvalidRate),
		errors.Is(err, projectdomain.ErrInvalidName),
		errors.Is(err, projectdomain.ErrInvalidBudget),
		errors.Is(err, rundomain.ErrInvalidMonth):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, invoicedomain.ErrUnmatchedPayee):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unmatched_payee",
			Message: "the sender does not match a registered subcontractor; register the payee or resubmit from a known address",
		}
	case errors.Is(err, docai.ErrUnreadableDocument),
		errors.Is(err, docai.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "extraction_failed",
			Message: "the document could not be read; upload a clearer copy or enter the invoice manually",
		}
	case errors.Is(err, docai.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "extraction_unavailable",
			Message: "document extraction is temporarily unavailable; try again shortly",
		}
	case errors.Is(err, invoicedomain.ErrDuplicateInvoiceNumber):
		return http.StatusConflict, errorPayload{
			Type:    "duplicate_invoice_number",
			Message: "an invoice with this number already exists for the subcontractor",
		}
	case errors.Is(err, approval.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: "the invoice cannot move to the requested status from its current one",
		}
	case errors.Is(err, invoicedomain.ErrCorrectionLocked):
		return http.StatusConflict, errorPayload{
			Type:    "correction_locked",
			Message: "the invoice is settled or scheduled for payment and can no longer be corrected",
		}
	case errors.Is(err, rundomain.ErrRunCompletionConflict):
		return http.StatusConflict, errorPayload{
			Type:    "run_completion_conflict",
			Message: "a member invoice is no longer approved; remove it and retry",
		}
	case errors.Is(err, rundomain.ErrRunNotDraft),
		errors.Is(err, rundomain.ErrRunNotReady),
		errors.Is(err, rundomain.ErrInvoiceNotEligible):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, subdomain.ErrDuplicateUTR):
		return http.StatusConflict, errorPayload{
			Type:    "duplicate_utr",
			Message: "a subcontractor with this UTR already exists",
		}
	case errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, subdomain.ErrNotFound),
		errors.Is(err, projectdomain.ErrNotFound),
		errors.Is(err, rundomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
