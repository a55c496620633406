// Package domain contains the subcontractor payee model.
package domain

import (
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CISStatus is the subcontractor's Construction Industry Scheme
// verification tier.
type CISStatus string

const (
	StatusNotVerified CISStatus = "NOT_VERIFIED"
	StatusGross       CISStatus = "GROSS"
	StatusStandard    CISStatus = "STANDARD"
	StatusHigher      CISStatus = "HIGHER"
)

// StatutoryRetention is how long HMRC requires CIS records to be kept.
const StatutoryRetention = 7 * 365 * 24 * time.Hour

var utrPattern = regexp.MustCompile(`^\d{10}$`)

// Subcontractor is a payee registered under CIS.
type Subcontractor struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Name string       `gorm:"type:text;not null"`
	// Email resolves inbound-email submissions to a payee.
	Email string `gorm:"type:text;index"`
	// UTR is the 10-digit Unique Taxpayer Reference. Empty when the payee
	// has not supplied one yet; the monthly rollup flags that.
	UTR       string    `gorm:"type:text;uniqueIndex:ux_subcontractors_utr,where:utr <> ''"`
	CISStatus CISStatus `gorm:"type:text;not null;default:'NOT_VERIFIED'"`
	// DeductionRateOverride, when set, takes precedence over the rate
	// implied by CISStatus. Integer percent 0-30.
	DeductionRateOverride *int `gorm:"column:deduction_rate_override"`

	AccountNumber string `gorm:"type:text"`
	SortCode      string `gorm:"type:text"`

	TotalInvoices int64           `gorm:"not null;default:0"`
	TotalPaid     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`

	Active                 bool       `gorm:"not null;default:true"`
	ScheduledForDeletionAt *time.Time `gorm:""`
	LastInvoiceAt          *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subcontractor) TableName() string { return "subcontractors" }

// RateForStatus maps a CIS status to its default deduction percent.
func RateForStatus(status CISStatus) int {
	switch status {
	case StatusGross:
		return 0
	case StatusHigher:
		return 30
	default:
		// STANDARD and NOT_VERIFIED both withhold at the standard rate.
		return 20
	}
}

// DeductionRate is the effective integer percent applied to this payee.
func (s Subcontractor) DeductionRate() int {
	if s.DeductionRateOverride != nil {
		return *s.DeductionRateOverride
	}
	return RateForStatus(s.CISStatus)
}

// ValidUTR reports whether the given reference is a well-formed UTR.
func ValidUTR(utr string) bool {
	return utrPattern.MatchString(utr)
}

// ValidStatus reports whether the given tier is known.
func ValidStatus(status CISStatus) bool {
	switch status {
	case StatusNotVerified, StatusGross, StatusStandard, StatusHigher:
		return true
	}
	return false
}

// RetentionExpired reports whether the statutory retention window has
// passed since the payee's last invoice activity.
func (s Subcontractor) RetentionExpired(now time.Time) bool {
	anchor := s.CreatedAt
	if s.LastInvoiceAt != nil && s.LastInvoiceAt.After(anchor) {
		anchor = *s.LastInvoiceAt
	}
	return now.Sub(anchor) > StatutoryRetention
}
