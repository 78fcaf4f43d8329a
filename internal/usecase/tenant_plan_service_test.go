package usecase

import (
	"context"
	"errors"
	"testing"

	"schema-migration-service/internal/domain"

	"github.com/google/go-cmp/cmp"
)

// mockTenantRepository はテスト用のモック。
type mockTenantRepository struct {
	tenants []*domain.Tenant
	err     error
}

func (m *mockTenantRepository) FindAllActive(ctx context.Context, region string) ([]*domain.Tenant, error) {
	if m.err != nil {
		return nil, m.err
	}
	var result []*domain.Tenant
	for _, t := range m.tenants {
		if t.Status != domain.TenantStatusActive {
			continue
		}
		if region != "" && t.Region != region {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

func (m *mockTenantRepository) FindBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, t := range m.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, nil
}

func newTestTenantRepository() *mockTenantRepository {
	return &mockTenantRepository{tenants: []*domain.Tenant{
		{ID: "1", Slug: "acme", DatabaseName: "tenant_acme", Region: "jp", Status: domain.TenantStatusActive},
		{ID: "2", Slug: "beta", DatabaseName: "neofast_shared", Region: "us", Status: domain.TenantStatusActive},
		{ID: "3", Slug: "gamma", DatabaseName: "billing", Region: "jp", Status: domain.TenantStatusActive},
		{ID: "4", Slug: "delta", DatabaseName: "tenant_delta", Region: "jp", Status: domain.TenantStatusSuspended},
	}}
}

func TestTenantPlanService_PlanAll(t *testing.T) {
	ctx := context.Background()
	service := NewTenantPlanService(newTestTenantRepository(), newTestPlanService(Credentials{}, nil))

	plans, err := service.PlanAll(ctx, "")
	if err != nil {
		t.Fatalf("PlanAll failed: %v", err)
	}

	got := make(map[string][]string)
	for _, p := range plans {
		got[p.Tenant.Slug] = p.Plan.SchemaNames()
	}
	want := map[string][]string{
		"acme":  {"platform_common", "tenant_template", "tenant_acme"},
		"beta":  {"platform_common", "tenant_template"},
		"gamma": {},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tenant plans mismatch (-want +got):\n%s", diff)
	}
}

func TestTenantPlanService_PlanAll_Region(t *testing.T) {
	service := NewTenantPlanService(newTestTenantRepository(), newTestPlanService(Credentials{}, nil))

	plans, err := service.PlanAll(context.Background(), "us")
	if err != nil {
		t.Fatalf("PlanAll failed: %v", err)
	}
	if len(plans) != 1 || plans[0].Tenant.Slug != "beta" {
		t.Errorf("want only beta, got %+v", plans)
	}
}

func TestTenantPlanService_PlanAll_RepositoryError(t *testing.T) {
	repoErr := errors.New("connection lost")
	service := NewTenantPlanService(&mockTenantRepository{err: repoErr}, newTestPlanService(Credentials{}, nil))

	if _, err := service.PlanAll(context.Background(), ""); !errors.Is(err, repoErr) {
		t.Errorf("want repository error, got %v", err)
	}
}

func TestTenantPlanService_PlanForTenant(t *testing.T) {
	ctx := context.Background()
	service := NewTenantPlanService(newTestTenantRepository(), newTestPlanService(Credentials{}, nil))

	tp, err := service.PlanForTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("PlanForTenant failed: %v", err)
	}
	if tp.Database != "tenant_acme" {
		t.Errorf("want database tenant_acme, got %s", tp.Database)
	}

	if _, err := service.PlanForTenant(ctx, "missing"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("want ErrTenantNotFound, got %v", err)
	}
}

func TestTenantPlanService_Databases(t *testing.T) {
	service := NewTenantPlanService(newTestTenantRepository(), newTestPlanService(Credentials{}, nil))

	got, err := service.Databases(context.Background(), "jp")
	if err != nil {
		t.Fatalf("Databases failed: %v", err)
	}
	if diff := cmp.Diff([]string{"tenant_acme", "billing"}, got); diff != "" {
		t.Errorf("databases mismatch (-want +got):\n%s", diff)
	}
}
