package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Entry describes one state change to be recorded.
type Entry struct {
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	Before     map[string]any
	After      map[string]any
}

type ListRequest struct {
	EntityType string
	EntityID   string
	Action     string
	StartAt    *time.Time
	EndAt      *time.Time
	Limit      int
}

// Recorder appends audit entries. Record takes the caller's transaction so
// the entry commits or rolls back with the state change it describes.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListRequest) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidEntity = errors.New("invalid_entity")
)
