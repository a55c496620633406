// Package domain contains the construction project model.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Project is a construction job with an agreed budget. Cumulative invoiced
// amounts are checked against it at intake.
type Project struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	Name      string          `gorm:"type:text;not null"`
	Reference string          `gorm:"type:text"`
	Budget    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	Active    bool            `gorm:"not null;default:true"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

type CreateRequest struct {
	Name      string          `json:"name"`
	Reference string          `json:"reference"`
	Budget    decimal.Decimal `json:"budget"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Project, error)
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context) ([]Project, error)
}

var (
	ErrNotFound      = errors.New("project_not_found")
	ErrInvalidName   = errors.New("invalid_project_name")
	ErrInvalidBudget = errors.New("invalid_project_budget")
)
