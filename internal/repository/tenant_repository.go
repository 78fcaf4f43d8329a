package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"schema-migration-service/internal/domain"
)

// TenantModel は管理DBの tenants テーブルのモデル。登録は管理系サービスが行い、ここでは読み取りのみ。
type TenantModel struct {
	ID           string    `gorm:"type:char(36);primaryKey"`
	Slug         string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_tenant_slug"`
	DatabaseName string    `gorm:"type:varchar(128);not null"`
	Region       string    `gorm:"type:varchar(32);not null;index:idx_tenant_region"`
	Status       string    `gorm:"type:varchar(16);not null;default:'active'"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (TenantModel) TableName() string {
	return "tenants"
}

func (m *TenantModel) toDomain() *domain.Tenant {
	return &domain.Tenant{
		ID:           m.ID,
		Slug:         m.Slug,
		DatabaseName: m.DatabaseName,
		Region:       m.Region,
		Status:       domain.TenantStatus(m.Status),
		CreatedAt:    m.CreatedAt,
	}
}

// TenantRepository は管理DBのテナント情報へのアクセスを提供する。
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository は新しいTenantRepositoryを生成する。
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// FindBySlug はスラッグでテナントを取得する。存在しない場合は nil を返す。
func (r *TenantRepository) FindBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	var model TenantModel
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find tenant",
			"operation", "find_by_slug",
			"slug", slug,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllActive は稼働中のテナントをスラッグ順に取得する。
// region が空でない場合はそのリージョンに限定する。
func (r *TenantRepository) FindAllActive(ctx context.Context, region string) ([]*domain.Tenant, error) {
	query := r.db.WithContext(ctx).Where("status = ?", string(domain.TenantStatusActive))
	if region != "" {
		query = query.Where("region = ?", region)
	}

	var models []TenantModel
	if err := query.Order("slug ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find active tenants",
			"operation", "find_all_active",
			"region", region,
			"error", err,
		)
		return nil, err
	}

	tenants := make([]*domain.Tenant, len(models))
	for i := range models {
		tenants[i] = models[i].toDomain()
	}
	return tenants, nil
}
