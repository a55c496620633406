package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/sitebooks/sitebooks/internal/project/domain"
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
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	repo  repository.Repository[domain.Project]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:   p.Log.Named("project.service"),
		genID: p.GenID,
		repo:  repository.ProvideStore[domain.Project](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if req.Budget.IsNegative() {
		return nil, domain.ErrInvalidBudget
	}

	project := domain.Project{
		ID:        s.genID.Generate(),
		Name:      name,
		Reference: strings.TrimSpace(req.Reference),
		Budget:    req.Budget,
		Active:    true,
	}
	if err := s.repo.Create(ctx, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Project, error) {
	pid, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}
	project, err := s.repo.FindOne(ctx, &domain.Project{ID: pid})
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, domain.ErrNotFound
	}
	return project, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Project, error) {
	items, err := s.repo.Find(ctx, &domain.Project{}, option.WithOrder("created_at DESC"))
	if err != nil {
		return nil, err
	}
	projects := make([]domain.Project, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		projects = append(projects, *item)
	}
	return projects, nil
}
