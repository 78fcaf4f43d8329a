// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"log/slog"
	"time"

	"schema-migration-service/internal/domain"

	"gorm.io/gorm"
)

// SchemaMigrationModel はschema_migrationsテーブルのモデル。
type SchemaMigrationModel struct {
	SchemaName  string    `gorm:"column:schema_name;primaryKey;type:varchar(63)"`
	Version     string    `gorm:"column:version;primaryKey;type:varchar(50)"`
	Description string    `gorm:"column:description;type:varchar(200);not null"`
	Checksum    string    `gorm:"column:checksum;type:char(64);not null"`
	RunID       string    `gorm:"column:run_id;type:varchar(36);index:idx_schema_migrations_run"`
	AppliedAt   time.Time `gorm:"column:applied_at;not null;autoCreateTime"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationModel) TableName() string {
	return "schema_migrations"
}

// MigrationRepository はスキーマごとのマイグレーション履歴を管理するリポジトリ。
type MigrationRepository struct {
	db *gorm.DB
}

// NewMigrationRepository は新しいMigrationRepositoryを生成する。
func NewMigrationRepository(db *gorm.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

// EnsureTable は履歴テーブルが存在しなければ作成する。
func (r *MigrationRepository) EnsureTable(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&SchemaMigrationModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to ensure schema_migrations table",
			"operation", "ensure_table",
			"error", err,
		)
		return err
	}
	return nil
}

// FindAllApplied は指定スキーマの適用済みマイグレーション一覧を取得する。
func (r *MigrationRepository) FindAllApplied(ctx context.Context, schemaName string) ([]*domain.Migration, error) {
	var models []SchemaMigrationModel
	err := r.db.WithContext(ctx).
		Where("schema_name = ?", schemaName).
		Order("applied_at ASC, version ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find all applied migrations",
			"operation", "find_all_applied",
			"schema", schemaName,
			"error", err,
		)
		return nil, err
	}

	migrations := make([]*domain.Migration, len(models))
	for i, model := range models {
		appliedAt := model.AppliedAt
		migrations[i] = &domain.Migration{
			SchemaName:  model.SchemaName,
			Version:     model.Version,
			Description: model.Description,
			Checksum:    model.Checksum,
			RunID:       model.RunID,
			AppliedAt:   &appliedAt,
			Status:      domain.MigrationStatusApplied,
		}
	}

	return migrations, nil
}

// RecordMigration はマイグレーション適用履歴を記録する。
// tx が nil でない場合はそのトランザクション内で記録する。
func (r *MigrationRepository) RecordMigration(ctx context.Context, tx *gorm.DB, migration *domain.Migration) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	model := &SchemaMigrationModel{
		SchemaName:  migration.SchemaName,
		Version:     migration.Version,
		Description: migration.Description,
		Checksum:    migration.Checksum,
		RunID:       migration.RunID,
	}
	if err := db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record migration",
			"operation", "record_migration",
			"schema", migration.SchemaName,
			"version", migration.Version,
			"run_id", migration.RunID,
			"error", err,
		)
		return err
	}
	appliedAt := model.AppliedAt
	migration.AppliedAt = &appliedAt
	migration.Status = domain.MigrationStatusApplied
	return nil
}
