package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"schema-migration-service/internal/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mockMigrationRepository はテスト用のモック。
type mockMigrationRepository struct {
	mu                sync.Mutex
	appliedMigrations map[string]*domain.Migration
	recorded          []string
	runIDs            []string
	recordError       error
	ensureError       error
}

func newMockMigrationRepository() *mockMigrationRepository {
	return &mockMigrationRepository{
		appliedMigrations: make(map[string]*domain.Migration),
	}
}

func migrationKey(schema, version string) string {
	return schema + ":" + version
}

func (m *mockMigrationRepository) EnsureTable(ctx context.Context) error {
	return m.ensureError
}

func (m *mockMigrationRepository) FindAllApplied(ctx context.Context, schemaName string) ([]*domain.Migration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Migration
	for _, migration := range m.appliedMigrations {
		if migration.SchemaName == schemaName {
			result = append(result, migration)
		}
	}
	return result, nil
}

func (m *mockMigrationRepository) RecordMigration(ctx context.Context, tx *gorm.DB, migration *domain.Migration) error {
	if m.recordError != nil {
		return m.recordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	migration.AppliedAt = &now
	migration.Status = domain.MigrationStatusApplied
	m.appliedMigrations[migrationKey(migration.SchemaName, migration.Version)] = migration
	m.recorded = append(m.recorded, migrationKey(migration.SchemaName, migration.Version))
	m.runIDs = append(m.runIDs, migration.RunID)
	return nil
}

func (m *mockMigrationRepository) markApplied(schema, version, checksum string) {
	now := time.Now()
	m.appliedMigrations[migrationKey(schema, version)] = &domain.Migration{
		SchemaName: schema,
		Version:    version,
		Checksum:   checksum,
		AppliedAt:  &now,
		Status:     domain.MigrationStatusApplied,
	}
}

// mockLocker はテスト用のモック。
type mockLocker struct {
	mu       sync.Mutex
	keys     []string
	released int
	err      error
}

func (l *mockLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

// mockMetrics はテスト用のモック。
type mockMetrics struct {
	mu         sync.Mutex
	plans      []string
	migrations map[string]int
	failures   int
}

func (m *mockMetrics) ObservePlan(source string, schemas, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append(m.plans, fmt.Sprintf("%s:%d:%d", source, schemas, dropped))
}

func (m *mockMetrics) ObserveMigration(schemaType string, applied int, elapsed time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.migrations == nil {
		m.migrations = make(map[string]int)
	}
	m.migrations[schemaType] += applied
	if err != nil {
		m.failures++
	}
}

// writeMigrationFiles はテスト用のmigrationsディレクトリを作成する。
// files のキーは migrationsDir からの相対パス。
func writeMigrationFiles(t *testing.T, migrationsDir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		filePath := filepath.Join(migrationsDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			t.Fatalf("failed to create migrations dir: %v", err)
		}
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to create test migration file: %v", err)
		}
	}
}

// setupTestMigrationsDir は platform と admin のマイグレーションを持つディレクトリを作成する。
func setupTestMigrationsDir(t *testing.T) string {
	t.Helper()

	migrationsDir := filepath.Join(t.TempDir(), "flyway")
	writeMigrationFiles(t, migrationsDir, map[string]string{
		"platform/V1__create_settings.sql":   "CREATE TABLE settings (id INT);",
		"platform/V2__create_features.sql":   "CREATE TABLE features (id INT);",
		"platform/V10__create_audits.sql":    "CREATE TABLE audits (id INT);",
		"platform/README.md":                 "not a migration",
		"platform/R__refresh_views.sql":      "SELECT 1;",
		"admin/V1_1__create_operators.sql":   "CREATE TABLE operators (id INT);",
		"regional/analytics/V1__events.sql":  "CREATE TABLE events (id INT);",
		"regional/shared/V1__customers.sql":  "CREATE TABLE IF NOT EXISTS customers (id INT);",
		"regional/shared/V2__orders.sql":     "CREATE TABLE IF NOT EXISTS orders (id INT);",
	})
	return migrationsDir
}

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// :memory: は接続ごとに別DBになるため1本に固定する
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func tableExists(t *testing.T, db *gorm.DB, table string) bool {
	t.Helper()
	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count).Error; err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return count == 1
}

func resolvePlan(t *testing.T, schemas ...string) *domain.Plan {
	t.Helper()
	plan, err := domain.NewResolver(nil).Resolve(schemas)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return plan
}

func TestMigrationService_ApplyPlan(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := newMockMigrationRepository()
	locker := &mockLocker{}
	metrics := &mockMetrics{}

	service := NewMigrationService(repo, db, locker, setupTestMigrationsDir(t), metrics)

	count, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "admin"))
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 migrations applied, got %d", count)
	}

	// 依存先のスキーマから、バージョンの数値順に適用される
	want := []string{"platform_common:1", "platform_common:2", "platform_common:10", "admin:1.1"}
	if diff := cmp.Diff(want, repo.recorded); diff != "" {
		t.Errorf("applied order mismatch (-want +got):\n%s", diff)
	}

	for _, table := range []string{"settings", "features", "audits", "operators"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s was not created", table)
		}
	}

	if diff := cmp.Diff([]string{"schema-migration:neofast_admin"}, locker.keys); diff != "" {
		t.Errorf("lock keys mismatch (-want +got):\n%s", diff)
	}
	if locker.released != 1 {
		t.Errorf("expected lock to be released once, got %d", locker.released)
	}
	if metrics.migrations["platform_common"] != 3 || metrics.migrations["admin"] != 1 {
		t.Errorf("unexpected migration metrics: %v", metrics.migrations)
	}
}

func TestMigrationService_ApplyPlan_AlreadyApplied(t *testing.T) {
	ctx := context.Background()
	migrationsDir := setupTestMigrationsDir(t)
	db := setupTestDB(t)
	repo := newMockMigrationRepository()

	// 既にマイグレーションが適用済みと設定
	for _, f := range []struct{ version, file string }{
		{"1", "V1__create_settings.sql"},
		{"2", "V2__create_features.sql"},
	} {
		checksum, err := fileChecksum(filepath.Join(migrationsDir, "platform", f.file))
		if err != nil {
			t.Fatalf("fileChecksum failed: %v", err)
		}
		repo.markApplied("platform_common", f.version, checksum)
	}

	service := NewMigrationService(repo, db, &mockLocker{}, migrationsDir, nil)

	count, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "platform_common"))
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}

	// 未適用のマイグレーションのみ実行される
	if count != 1 {
		t.Errorf("expected 1 migration applied, got %d", count)
	}
	if tableExists(t, db, "settings") {
		t.Error("applied migration should not run again")
	}
}

func TestMigrationService_ApplyPlan_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := newMockMigrationRepository()
	repo.markApplied("platform_common", "1", "0000")

	service := NewMigrationService(repo, db, &mockLocker{}, setupTestMigrationsDir(t), nil)

	count, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "admin"))
	if !errors.Is(err, domain.ErrChecksumMismatch) {
		t.Fatalf("want ErrChecksumMismatch, got %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 migrations applied, got %d", count)
	}
	if tableExists(t, db, "operators") {
		t.Error("dependent schema should not be migrated after a failure")
	}
}

func TestMigrationService_ApplyPlan_Error(t *testing.T) {
	ctx := context.Background()
	migrationsDir := setupTestMigrationsDir(t)
	db := setupTestDB(t)
	metrics := &mockMetrics{}

	// 不正なSQLファイルを作成
	writeMigrationFiles(t, migrationsDir, map[string]string{
		"admin/V2__invalid.sql": "INVALID SQL SYNTAX;",
	})

	service := NewMigrationService(newMockMigrationRepository(), db, &mockLocker{}, migrationsDir, metrics)

	count, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "admin"))
	if !errors.Is(err, domain.ErrMigrationFailed) {
		t.Fatalf("want ErrMigrationFailed, got %v", err)
	}
	// platform_common の3件と admin の V1_1 は適用済み
	if count != 4 {
		t.Errorf("expected 4 migrations applied before the failure, got %d", count)
	}
	if metrics.failures != 1 {
		t.Errorf("expected 1 failure observed, got %d", metrics.failures)
	}
}

func TestMigrationService_ApplyPlan_InvalidFileName(t *testing.T) {
	ctx := context.Background()
	migrationsDir := setupTestMigrationsDir(t)
	writeMigrationFiles(t, migrationsDir, map[string]string{
		"platform/V__missing_version.sql": "SELECT 1;",
	})

	service := NewMigrationService(newMockMigrationRepository(), setupTestDB(t), &mockLocker{}, migrationsDir, nil)

	_, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "platform_common"))
	if !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Fatalf("want ErrInvalidMigrationFile, got %v", err)
	}
}

func TestMigrationService_ApplyPlan_LockError(t *testing.T) {
	ctx := context.Background()
	locker := &mockLocker{err: errors.New("lock timeout")}

	service := NewMigrationService(newMockMigrationRepository(), setupTestDB(t), locker, setupTestMigrationsDir(t), nil)

	_, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "admin"))
	if !errors.Is(err, domain.ErrLockNotAcquired) {
		t.Fatalf("want ErrLockNotAcquired, got %v", err)
	}
}

func TestMigrationService_ApplyPlan_TenantSharesTemplateLocation(t *testing.T) {
	ctx := context.Background()
	repo := newMockMigrationRepository()

	service := NewMigrationService(repo, setupTestDB(t), &mockLocker{}, setupTestMigrationsDir(t), nil)

	count, err := service.ApplyPlan(ctx, "tenant_acme", resolvePlan(t, "tenant_acme"))
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if count != 7 {
		t.Errorf("expected 7 migrations applied, got %d", count)
	}

	want := []string{
		"platform_common:1", "platform_common:2", "platform_common:10",
		"tenant_template:1", "tenant_template:2",
		"tenant_acme:1", "tenant_acme:2",
	}
	if diff := cmp.Diff(want, repo.recorded); diff != "" {
		t.Errorf("applied order mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrationService_ApplyPlan_MissingLocation(t *testing.T) {
	ctx := context.Background()

	service := NewMigrationService(newMockMigrationRepository(), setupTestDB(t), &mockLocker{}, t.TempDir(), nil)

	count, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "admin"))
	if err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 migrations applied, got %d", count)
	}
}

func TestMigrationService_Status(t *testing.T) {
	ctx := context.Background()
	migrationsDir := setupTestMigrationsDir(t)
	repo := newMockMigrationRepository()

	// 一部のマイグレーションを適用済みと設定
	checksum, err := fileChecksum(filepath.Join(migrationsDir, "platform", "V1__create_settings.sql"))
	if err != nil {
		t.Fatalf("fileChecksum failed: %v", err)
	}
	repo.markApplied("platform_common", "1", checksum)

	service := NewMigrationService(repo, setupTestDB(t), &mockLocker{}, migrationsDir, nil)

	statuses, err := service.Status(ctx, resolvePlan(t, "admin"))
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 schema statuses, got %d", len(statuses))
	}

	platform := statuses[0]
	if platform.Schema.SchemaName != "platform_common" {
		t.Errorf("expected platform_common first, got %s", platform.Schema.SchemaName)
	}
	got := make([]string, len(platform.Migrations))
	for i, m := range platform.Migrations {
		got[i] = fmt.Sprintf("%s=%s", m.Version, m.Status)
	}
	want := []string{"1=applied", "2=pending", "10=pending"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if platform.Pending() != 2 {
		t.Errorf("expected 2 pending, got %d", platform.Pending())
	}
	if statuses[1].Pending() != 1 {
		t.Errorf("expected 1 pending admin migration, got %d", statuses[1].Pending())
	}
}

func TestParseMigrationFileName(t *testing.T) {
	tests := []struct {
		filename    string
		version     string
		description string
		wantErr     bool
	}{
		{"V1__init.sql", "1.0.0", "init", false},
		{"V1_2__add_users.sql", "1.2.0", "add users", false},
		{"V2.1.3__rename.sql", "2.1.3", "rename", false},
		{"V__no_version.sql", "", "", true},
		{"V1_missing_separator.sql", "", "", true},
		{"V1__.sql", "", "", true},
		{"Vabc__bad_version.sql", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			v, description, err := parseMigrationFileName(tt.filename)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidMigrationFile) {
					t.Errorf("want ErrInvalidMigrationFile, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMigrationFileName failed: %v", err)
			}
			if v.String() != tt.version {
				t.Errorf("want version %s, got %s", tt.version, v.String())
			}
			if description != tt.description {
				t.Errorf("want description %q, got %q", tt.description, description)
			}
		})
	}
}

func TestMigrationService_ApplyPlan_RunID(t *testing.T) {
	repo := newMockMigrationRepository()
	service := NewMigrationService(repo, setupTestDB(t), &mockLocker{}, setupTestMigrationsDir(t), nil)

	ctx := domain.ContextWithRunID(context.Background(), "run-1")
	if _, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "platform_common")); err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if diff := cmp.Diff([]string{"run-1", "run-1", "run-1"}, repo.runIDs); diff != "" {
		t.Errorf("run ids mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrationService_ApplyPlan_GeneratesRunID(t *testing.T) {
	repo := newMockMigrationRepository()
	service := NewMigrationService(repo, setupTestDB(t), &mockLocker{}, setupTestMigrationsDir(t), nil)

	if _, err := service.ApplyPlan(context.Background(), "neofast_admin", resolvePlan(t, "admin")); err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}
	if len(repo.runIDs) != 4 {
		t.Fatalf("want 4 recorded migrations, got %d", len(repo.runIDs))
	}
	if _, err := uuid.Parse(repo.runIDs[0]); err != nil {
		t.Errorf("want uuid run id, got %q", repo.runIDs[0])
	}
	for _, id := range repo.runIDs[1:] {
		if id != repo.runIDs[0] {
			t.Errorf("migrations of one run must share the run id: %v", repo.runIDs)
			break
		}
	}
}

func TestStartRun_KeepsExistingID(t *testing.T) {
	ctx, id := StartRun(domain.ContextWithRunID(context.Background(), "run-1"))
	if id != "run-1" || domain.RunIDFromContext(ctx) != "run-1" {
		t.Errorf("want existing run id, got %q", id)
	}

	ctx, id = StartRun(context.Background())
	if id == "" || domain.RunIDFromContext(ctx) != id {
		t.Errorf("want generated run id stored in context, got %q", id)
	}
}

func TestMigrationService_ApplyPlan_RenamedVersionNotReapplied(t *testing.T) {
	ctx := context.Background()
	migrationsDir := setupTestMigrationsDir(t)
	repo := newMockMigrationRepository()
	db := setupTestDB(t)
	service := NewMigrationService(repo, db, &mockLocker{}, migrationsDir, nil)

	if _, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "platform_common")); err != nil {
		t.Fatalf("ApplyPlan failed: %v", err)
	}

	// V1 を V1_0 に改名しても同じバージョンとして扱う
	platformDir := filepath.Join(migrationsDir, "platform")
	if err := os.Rename(filepath.Join(platformDir, "V1__create_settings.sql"), filepath.Join(platformDir, "V1_0__create_settings.sql")); err != nil {
		t.Fatalf("failed to rename migration: %v", err)
	}

	count, err := service.ApplyPlan(ctx, "neofast_admin", resolvePlan(t, "platform_common"))
	if err != nil {
		t.Fatalf("second ApplyPlan failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected renamed migration to stay applied, got %d applied", count)
	}

	statuses, err := service.Status(ctx, resolvePlan(t, "platform_common"))
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if pending := statuses[0].Pending(); pending != 0 {
		t.Errorf("want 0 pending, got %d", pending)
	}
}
