// Package domain contains persistence models for invoices.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/sitebooks/sitebooks/internal/approval"
	"github.com/sitebooks/sitebooks/internal/risk"
	"gorm.io/datatypes"
)

// SourceChannel identifies where a document entered the pipeline.
type SourceChannel string

const (
	ChannelUpload SourceChannel = "upload"
	ChannelEmail  SourceChannel = "email"
)

// Invoice is the central financial record produced by intake.
//
// NetPayment + CISDeduction == Amount at all times; CISDeduction is only
// ever written from the tax engine's output. Amounts change only through
// the audited correction action.
type Invoice struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	SubcontractorID snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoices_number"`
	ProjectID       *snowflake.ID `gorm:"index"`

	InvoiceNumber string     `gorm:"type:text;not null;uniqueIndex:ux_invoices_number"`
	InvoiceDate   time.Time  `gorm:"not null"`
	DueDate       *time.Time `gorm:""`

	Amount       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CISRate      int             `gorm:"not null"`
	CISDeduction decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	NetPayment   decimal.Decimal `gorm:"type:numeric(14,2);not null"`

	Status       approval.Status `gorm:"type:text;not null;default:'SUBMITTED';index"`
	RejectReason *string         `gorm:"type:text"`

	SourceChannel        SourceChannel `gorm:"type:text;not null"`
	ExtractionConfidence float64       `gorm:"not null;default:0"`
	// IdempotencyKey is the digest of document bytes plus sender, so a
	// retried submission cannot create a second invoice.
	IdempotencyKey string `gorm:"type:text;not null;uniqueIndex:ux_invoices_idempotency"`

	RiskScore int            `gorm:"not null;default:0"`
	RiskLevel risk.Level     `gorm:"type:text;not null;default:'LOW'"`
	RiskFlags datatypes.JSON `gorm:"type:jsonb"`

	PaymentRunID *snowflake.ID `gorm:"index"`
	PaymentDate  *time.Time    `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Flags decodes the stored risk flag list.
func (i Invoice) Flags() []risk.Flag {
	if len(i.RiskFlags) == 0 {
		return nil
	}
	var flags []risk.Flag
	if err := json.Unmarshal(i.RiskFlags, &flags); err != nil {
		return nil
	}
	return flags
}

// Assessment reassembles the stored risk assessment.
func (i Invoice) Assessment() risk.Assessment {
	return risk.Assessment{
		Score: i.RiskScore,
		Level: i.RiskLevel,
		Flags: i.Flags(),
	}
}
