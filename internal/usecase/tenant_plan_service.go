package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"schema-migration-service/internal/domain"
)

// TenantRepository はテナント情報を取得するリポジトリのインターフェース。
type TenantRepository interface {
	FindAllActive(ctx context.Context, region string) ([]*domain.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
}

// TenantPlanService はテナントDBごとのマイグレーション計画を提供する。
type TenantPlanService struct {
	tenants TenantRepository
	plans   *PlanService
}

// NewTenantPlanService は新しいTenantPlanServiceを生成する。
func NewTenantPlanService(tenants TenantRepository, plans *PlanService) *TenantPlanService {
	return &TenantPlanService{tenants: tenants, plans: plans}
}

// PlanAll は稼働中の全テナントについて計画を作成する。
// region が空の場合は全リージョンが対象。
func (s *TenantPlanService) PlanAll(ctx context.Context, region string) ([]domain.TenantPlan, error) {
	tenants, err := s.tenants.FindAllActive(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	plans := make([]domain.TenantPlan, 0, len(tenants))
	for _, t := range tenants {
		tp, err := s.planFor(ctx, t)
		if err != nil {
			return nil, err
		}
		plans = append(plans, tp)
	}
	return plans, nil
}

// PlanForTenant はスラッグで指定したテナントの計画を作成する。
func (s *TenantPlanService) PlanForTenant(ctx context.Context, slug string) (*domain.TenantPlan, error) {
	t, err := s.tenants.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTenantNotFound, slug)
	}
	tp, err := s.planFor(ctx, t)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

// Databases は稼働中テナントのデータベース名を返す。
func (s *TenantPlanService) Databases(ctx context.Context, region string) ([]string, error) {
	tenants, err := s.tenants.FindAllActive(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	databases := make([]string, len(tenants))
	for i, t := range tenants {
		databases[i] = t.DatabaseName
	}
	return databases, nil
}

func (s *TenantPlanService) planFor(ctx context.Context, t *domain.Tenant) (domain.TenantPlan, error) {
	tp := domain.TenantPlan{Tenant: *t}

	dp, err := s.plans.PlanForDatabase(ctx, t.DatabaseName)
	switch {
	case err == nil:
		tp.DatabasePlan = *dp
	case errors.Is(err, domain.ErrNoSchemasForDatabase):
		slog.WarnContext(ctx, "tenant database has no schemas to migrate",
			"operation", "plan_all",
			"tenant", t.Slug,
			"database", t.DatabaseName,
		)
		tp.DatabasePlan = domain.DatabasePlan{
			Database:        t.DatabaseName,
			RequiredSchemas: []string{},
			Plan:            &domain.Plan{Order: []domain.SchemaMigration{}},
		}
	default:
		return tp, fmt.Errorf("tenant %s: %w", t.Slug, err)
	}
	return tp, nil
}
