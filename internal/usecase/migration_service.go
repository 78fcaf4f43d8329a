package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"schema-migration-service/internal/domain"

	"github.com/hashicorp/go-version"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	FindAllApplied(ctx context.Context, schemaName string) ([]*domain.Migration, error)
	RecordMigration(ctx context.Context, tx *gorm.DB, migration *domain.Migration) error
}

// Locker はデータベース単位の排他ロックを提供する。
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// MigrationService はマイグレーション実行のビジネスロジックを提供する。
type MigrationService struct {
	repo          MigrationRepository
	db            *gorm.DB
	locker        Locker
	migrationsDir string
	metrics       MetricsRecorder
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(repo MigrationRepository, db *gorm.DB, locker Locker, migrationsDir string, metrics MetricsRecorder) *MigrationService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &MigrationService{
		repo:          repo,
		db:            db,
		locker:        locker,
		migrationsDir: migrationsDir,
		metrics:       metrics,
	}
}

type migrationFile struct {
	migration *domain.Migration
	version   *version.Version
}

// scanMigrationFiles はスキーマのロケーションから V<version>__<description>.sql をスキャンする。
// ロケーションのディレクトリが存在しない場合は空を返す。
func (s *MigrationService) scanMigrationFiles(ctx context.Context, schema domain.SchemaMigration) ([]*domain.Migration, error) {
	dir := filepath.Join(s.migrationsDir, filepath.FromSlash(schema.MigrationLocation))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.WarnContext(ctx, "migration location not found",
				"operation", "scan_migration_files",
				"schema", schema.SchemaName,
				"location", dir,
			)
			return []*domain.Migration{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []migrationFile
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") || !strings.HasPrefix(entry.Name(), "V") {
			continue
		}

		v, description, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		// V1 と V1.0 は同じバージョンとして扱う
		key := v.String()
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s and %s share version %s", domain.ErrInvalidMigrationFile, prev, entry.Name(), v.Original())
		}
		seen[key] = entry.Name()

		filePath := filepath.Join(dir, entry.Name())
		checksum, err := fileChecksum(filePath)
		if err != nil {
			return nil, err
		}

		files = append(files, migrationFile{
			version: v,
			migration: &domain.Migration{
				SchemaName:  schema.SchemaName,
				Version:     v.Original(),
				Description: description,
				Checksum:    checksum,
				FilePath:    filePath,
				Status:      domain.MigrationStatusPending,
			},
		})
	}

	// バージョン順にソート
	sort.Slice(files, func(i, j int) bool {
		return files[i].version.LessThan(files[j].version)
	})

	migrations := make([]*domain.Migration, len(files))
	for i, f := range files {
		migrations[i] = f.migration
	}
	return migrations, nil
}

// parseMigrationFileName はファイル名からバージョンと説明を抽出する。
// ファイル名のフォーマット: V{version}__{description}.sql (例: V1_1__create_users.sql)
func parseMigrationFileName(filename string) (*version.Version, string, error) {
	nameWithoutExt := strings.TrimSuffix(strings.TrimPrefix(filename, "V"), ".sql")

	parts := strings.SplitN(nameWithoutExt, "__", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, "", fmt.Errorf("%w: %s (expected format: V{version}__{description}.sql)", domain.ErrInvalidMigrationFile, filename)
	}

	v, err := version.NewVersion(strings.ReplaceAll(parts[0], "_", "."))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", domain.ErrInvalidMigrationFile, filename, err)
	}

	return v, strings.ReplaceAll(parts[1], "_", " "), nil
}

// versionKey は履歴とファイルの突き合わせに使う正規化したバージョンを返す。
// 解釈できない値はそのまま使う。
func versionKey(raw string) string {
	v, err := version.NewVersion(raw)
	if err != nil {
		return raw
	}
	return v.String()
}

func fileChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read migration file: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ApplyPlan は計画の順にスキーマごとの未適用マイグレーションを実行する。
// 失敗したスキーマで停止し、それまでに適用した件数を返す。
func (s *MigrationService) ApplyPlan(ctx context.Context, database string, plan *domain.Plan) (int, error) {
	ctx, runID := StartRun(ctx)
	ctx, span := tracer.Start(ctx, "MigrationService.ApplyPlan")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.name", database),
		attribute.String("migration.run_id", runID),
		attribute.Int("plan.schema_count", len(plan.Order)),
	)

	release, err := s.locker.Acquire(ctx, "schema-migration:"+database)
	if err != nil {
		slog.ErrorContext(ctx, "failed to acquire migration lock",
			"operation", "apply_plan",
			"database", database,
			"error", err,
		)
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, database, err)
	}
	defer release()

	if err := s.repo.EnsureTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to prepare migration history: %w", err)
	}

	appliedCount := 0
	for _, schema := range plan.Order {
		started := time.Now()
		n, err := s.applySchema(ctx, schema)
		appliedCount += n
		s.metrics.ObserveMigration(schema.SchemaType.String(), n, time.Since(started), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.ErrorContext(ctx, "failed to migrate schema",
				"operation", "apply_plan",
				"database", database,
				"schema", schema.SchemaName,
				"error", err,
			)
			return appliedCount, fmt.Errorf("schema %s: %w", schema.SchemaName, err)
		}
		if n > 0 {
			slog.InfoContext(ctx, "schema migrated",
				"operation", "apply_plan",
				"database", database,
				"schema", schema.SchemaName,
				"applied", n,
			)
		}
	}

	span.SetAttributes(attribute.Int("migration.applied", appliedCount))
	return appliedCount, nil
}

// applySchema は1スキーマ分の未適用マイグレーションを実行する。
func (s *MigrationService) applySchema(ctx context.Context, schema domain.SchemaMigration) (int, error) {
	status, err := s.schemaStatus(ctx, schema)
	if err != nil {
		return 0, err
	}

	appliedCount := 0
	for _, migration := range status.Migrations {
		if migration.Status == domain.MigrationStatusApplied {
			continue
		}
		if err := s.applyMigration(ctx, migration); err != nil {
			return appliedCount, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, migration.Version, err)
		}
		appliedCount++
	}
	return appliedCount, nil
}

// applyMigration は単一のマイグレーションを対象スキーマに限定したトランザクションで実行する。
func (s *MigrationService) applyMigration(ctx context.Context, migration *domain.Migration) error {
	sqlBytes, err := os.ReadFile(migration.FilePath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read migration file",
			"operation", "apply_migration",
			"schema", migration.SchemaName,
			"version", migration.Version,
			"file_path", migration.FilePath,
			"error", err,
		)
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	migration.RunID = domain.RunIDFromContext(ctx)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 履歴は search_path を切り替える前に既定スキーマへ記録する
		if err := s.repo.RecordMigration(ctx, tx, migration); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}

		if err := scopeToSchema(tx, migration.SchemaName); err != nil {
			slog.ErrorContext(ctx, "failed to scope transaction to schema",
				"operation", "apply_migration",
				"schema", migration.SchemaName,
				"error", err,
			)
			return err
		}

		if err := tx.Exec(string(sqlBytes)).Error; err != nil {
			slog.ErrorContext(ctx, "failed to execute migration SQL",
				"operation", "apply_migration",
				"schema", migration.SchemaName,
				"version", migration.Version,
				"error", err,
			)
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}

		return nil
	})
}

// scopeToSchema はPostgreSQLの場合にスキーマを作成し、トランザクションの search_path を切り替える。
// それ以外の方言では何もしない。
func scopeToSchema(tx *gorm.DB, schemaName string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	ident := quoteIdent(schemaName)
	if err := tx.Exec("CREATE SCHEMA IF NOT EXISTS " + ident).Error; err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := tx.Exec("SET LOCAL search_path TO " + ident).Error; err != nil {
		return fmt.Errorf("failed to set search_path: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// schemaStatus はファイルと履歴を突き合わせ、適用状態を設定する。
// 適用済みのファイル内容が変わっている場合は ErrChecksumMismatch を返す。
func (s *MigrationService) schemaStatus(ctx context.Context, schema domain.SchemaMigration) (*domain.SchemaStatus, error) {
	migrations, err := s.scanMigrationFiles(ctx, schema)
	if err != nil {
		return nil, err
	}

	appliedMigrations, err := s.repo.FindAllApplied(ctx, schema.SchemaName)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch applied migrations",
			"operation", "schema_status",
			"schema", schema.SchemaName,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
	}

	appliedMap := make(map[string]*domain.Migration, len(appliedMigrations))
	for _, migration := range appliedMigrations {
		appliedMap[versionKey(migration.Version)] = migration
	}

	for _, migration := range migrations {
		applied, exists := appliedMap[versionKey(migration.Version)]
		if !exists {
			continue
		}
		if applied.Checksum != migration.Checksum {
			return nil, fmt.Errorf("%w: schema %s version %s", domain.ErrChecksumMismatch, schema.SchemaName, migration.Version)
		}
		migration.Status = domain.MigrationStatusApplied
		migration.AppliedAt = applied.AppliedAt
	}

	return &domain.SchemaStatus{Schema: schema, Migrations: migrations}, nil
}

// Status は計画内の各スキーマのマイグレーション状況を取得する。
func (s *MigrationService) Status(ctx context.Context, plan *domain.Plan) ([]domain.SchemaStatus, error) {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare migration history: %w", err)
	}

	statuses := make([]domain.SchemaStatus, 0, len(plan.Order))
	for _, schema := range plan.Order {
		status, err := s.schemaStatus(ctx, schema)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *status)
	}
	return statuses, nil
}
