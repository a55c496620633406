package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/sitebooks/sitebooks/internal/audit/domain"
	"github.com/sitebooks/sitebooks/internal/subcontractor/domain"
	"github.com/sitebooks/sitebooks/pkg/db"
	"github.com/sitebooks/sitebooks/pkg/db/option"
	"github.com/sitebooks/sitebooks/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Audit auditdomain.Recorder
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  repository.Repository[domain.Subcontractor]
	audit auditdomain.Recorder
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subcontractor.service"),
		genID: p.GenID,
		repo:  repository.ProvideStore[domain.Subcontractor](p.DB),
		audit: p.Audit,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Subcontractor, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	utr := strings.TrimSpace(req.UTR)
	if utr != "" && !domain.ValidUTR(utr) {
		return nil, domain.ErrInvalidUTR
	}

	status := req.CISStatus
	if status == "" {
		status = domain.StatusNotVerified
	}
	if !domain.ValidStatus(status) {
		return nil, domain.ErrInvalidStatus
	}
	if req.OverrideRate != nil && (*req.OverrideRate < 0 || *req.OverrideRate > 30) {
		return nil, domain.ErrInvalidRate
	}

	sub := domain.Subcontractor{
		ID:                    s.genID.Generate(),
		Name:                  name,
		Email:                 strings.ToLower(strings.TrimSpace(req.Email)),
		UTR:                   utr,
		CISStatus:             status,
		DeductionRateOverride: req.OverrideRate,
		AccountNumber:         strings.TrimSpace(req.AccountNumber),
		SortCode:              strings.TrimSpace(req.SortCode),
		Active:                true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTrx(tx).Create(ctx, &sub); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "subcontractor",
			EntityID:   sub.ID.String(),
			Action:     "subcontractor.created",
			Actor:      "system:onboarding",
			After:      snapshot(sub),
		})
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateUTR
		}
		return nil, err
	}

	return &sub, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Subcontractor, error) {
	sid, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}
	sub, err := s.repo.FindOne(ctx, &domain.Subcontractor{ID: sid})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNotFound
	}
	return sub, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.Subcontractor, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.ErrNotFound
	}
	sub, err := s.repo.FindOne(ctx, &domain.Subcontractor{Email: email, Active: true})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNotFound
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Subcontractor, error) {
	filter := &domain.Subcontractor{}
	if req.Active != nil {
		filter.Active = *req.Active
	}

	items, err := s.repo.Find(ctx, filter, option.WithOrder("created_at DESC"))
	if err != nil {
		return nil, err
	}

	subs := make([]domain.Subcontractor, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		subs = append(subs, *item)
	}
	return subs, nil
}

func (s *Service) RecordVerification(ctx context.Context, req domain.VerificationRequest) (*domain.Subcontractor, error) {
	if !domain.ValidStatus(req.CISStatus) {
		return nil, domain.ErrInvalidStatus
	}
	if req.OverrideRate != nil && (*req.OverrideRate < 0 || *req.OverrideRate > 30) {
		return nil, domain.ErrInvalidRate
	}

	sub, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	before := snapshot(*sub)
	sub.CISStatus = req.CISStatus
	sub.DeductionRateOverride = req.OverrideRate
	sub.UpdatedAt = time.Now().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"cis_status":              sub.CISStatus,
			"deduction_rate_override": sub.DeductionRateOverride,
			"updated_at":              sub.UpdatedAt,
		}
		if err := tx.Model(&domain.Subcontractor{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "subcontractor",
			EntityID:   sub.ID.String(),
			Action:     "subcontractor.verified",
			Actor:      req.Actor,
			Before:     before,
			After:      snapshot(*sub),
		})
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (s *Service) ScheduleDeletion(ctx context.Context, id, actor string) (*domain.Subcontractor, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	before := snapshot(*sub)
	now := time.Now().UTC()
	sub.ScheduledForDeletionAt = &now
	sub.Active = false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"scheduled_for_deletion_at": now,
			"active":                    false,
			"updated_at":                now,
		}
		if err := tx.Model(&domain.Subcontractor{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "subcontractor",
			EntityID:   sub.ID.String(),
			Action:     "subcontractor.deletion_scheduled",
			Actor:      actor,
			Before:     before,
			After:      snapshot(*sub),
		})
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (s *Service) CancelDeletion(ctx context.Context, id, actor string) (*domain.Subcontractor, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	before := snapshot(*sub)
	now := time.Now().UTC()
	sub.ScheduledForDeletionAt = nil
	sub.Active = true

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"scheduled_for_deletion_at": gorm.Expr("NULL"),
			"active":                    true,
			"updated_at":                now,
		}
		if err := tx.Model(&domain.Subcontractor{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: "subcontractor",
			EntityID:   sub.ID.String(),
			Action:     "subcontractor.deletion_cancelled",
			Actor:      actor,
			Before:     before,
			After:      snapshot(*sub),
		})
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func snapshot(sub domain.Subcontractor) map[string]any {
	snap := map[string]any{
		"name":           sub.Name,
		"utr":            sub.UTR,
		"cis_status":     string(sub.CISStatus),
		"deduction_rate": sub.DeductionRate(),
		"active":         sub.Active,
	}
	if sub.ScheduledForDeletionAt != nil {
		snap["scheduled_for_deletion_at"] = sub.ScheduledForDeletionAt.Format(time.RFC3339)
	}
	return snap
}
