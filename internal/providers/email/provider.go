// Package email delivers pipeline notifications. Delivery is best-effort:
// a failed send never rolls back the state change that triggered it.
package email

import "context"

// Event describes a processed invoice for the recipient.
type Event struct {
	InvoiceID     string
	InvoiceNumber string
	Status        string
	RiskLevel     string
	RecipientRole string
	Recipient     string
}

type Notifier interface {
	InvoiceProcessed(ctx context.Context, event Event) error
}

type NoOpNotifier struct{}

func (NoOpNotifier) InvoiceProcessed(ctx context.Context, event Event) error {
	return nil
}
