// Package domain contains the append-only audit log model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Well-known system actors.
const (
	ActorAutoApproval = "system:auto-approval"
	ActorPaymentRun   = "system:payment-run"
	ActorInbound      = "system:inbound-email"
)

// AuditLog is an immutable record of a state-changing action. Rows are only
// ever inserted.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	EntityType string            `gorm:"type:text;not null;index:idx_audit_entity"`
	EntityID   string            `gorm:"type:text;not null;index:idx_audit_entity"`
	Action     string            `gorm:"type:text;not null;index"`
	Actor      string            `gorm:"type:text;not null"`
	Before     datatypes.JSONMap `gorm:"type:jsonb"`
	After      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
