// Package usecase はアプリケーションのビジネスロジックを提供する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"schema-migration-service/internal/domain"
	"schema-migration-service/internal/flyway"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const redactedPassword = "********"

var tracer = otel.Tracer("schema-migration-service/usecase")

// MetricsRecorder は計画と適用の計測値を記録する。
type MetricsRecorder interface {
	ObservePlan(source string, schemas, dropped int)
	ObserveMigration(schemaType string, applied int, elapsed time.Duration, err error)
}

// SecretDecrypter は暗号化された秘密情報を復号する。
type SecretDecrypter interface {
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

type noopMetrics struct{}

func (noopMetrics) ObservePlan(string, int, int)                       {}
func (noopMetrics) ObserveMigration(string, int, time.Duration, error) {}

// Credentials はFlyway接続の認証情報。
// PasswordCiphertext が設定されている場合は Decrypter で復号した値を使う。
type Credentials struct {
	Username           string
	Password           string
	PasswordCiphertext string
	Decrypter          SecretDecrypter
}

func (c Credentials) password(ctx context.Context) (string, error) {
	if c.PasswordCiphertext == "" {
		return c.Password, nil
	}
	if c.Decrypter == nil {
		return "", errors.New("password ciphertext is set but no decrypter is configured")
	}
	plaintext, err := c.Decrypter.Decrypt(ctx, c.PasswordCiphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt flyway password: %w", err)
	}
	return string(plaintext), nil
}

// FlywayConfig は1スキーマ分のFlyway設定ファイル。
type FlywayConfig struct {
	Order             int    `json:"order"`
	SchemaName        string `json:"schema_name"`
	MigrationLocation string `json:"migration_location"`
	FileName          string `json:"file_name"`
	Content           string `json:"content"`
}

// PlanService はマイグレーション計画の作成を提供する。
type PlanService struct {
	resolver       *domain.Resolver
	databasePrefix string
	renderer       *flyway.Renderer
	credentials    Credentials
	metrics        MetricsRecorder
}

// NewPlanService は新しいPlanServiceを生成する。
// metrics が nil の場合は計測しない。
func NewPlanService(resolver *domain.Resolver, databasePrefix string, renderer *flyway.Renderer, credentials Credentials, metrics MetricsRecorder) *PlanService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if renderer == nil {
		renderer = flyway.NewRenderer(flyway.DefaultRoot)
	}
	return &PlanService{
		resolver:       resolver,
		databasePrefix: databasePrefix,
		renderer:       renderer,
		credentials:    credentials,
		metrics:        metrics,
	}
}

// Resolver は計画に使うResolverを返す。
func (s *PlanService) Resolver() *domain.Resolver {
	return s.resolver
}

// PlanForSchemas はスキーマ名の一覧からマイグレーション計画を作成する。
func (s *PlanService) PlanForSchemas(ctx context.Context, schemaNames []string) (*domain.Plan, error) {
	return s.plan(ctx, "schemas", schemaNames)
}

func (s *PlanService) plan(ctx context.Context, source string, schemaNames []string) (*domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "PlanService.Plan")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan.source", source),
		attribute.Int("plan.input_count", len(schemaNames)),
	)

	plan, err := s.resolver.Resolve(schemaNames)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "failed to resolve migration plan",
			"operation", "plan",
			"schemas", schemaNames,
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("plan.schema_count", len(plan.Order)),
		attribute.Int("plan.dropped_edges", len(plan.DroppedEdges)),
	)
	if len(plan.DroppedEdges) > 0 {
		edges := make([]string, len(plan.DroppedEdges))
		for i, e := range plan.DroppedEdges {
			edges[i] = e.From + "->" + e.To
		}
		slog.WarnContext(ctx, "dependency cycle detected; ordering not guaranteed for some edges",
			"operation", "plan",
			"dropped_edges", edges,
		)
	}
	s.metrics.ObservePlan(source, len(plan.Order), len(plan.DroppedEdges))

	return plan, nil
}

// PlanForDatabase はデータベース名から必要なスキーマを導出し、計画を作成する。
// 対象スキーマがない場合は ErrNoSchemasForDatabase を返す。
func (s *PlanService) PlanForDatabase(ctx context.Context, database string) (*domain.DatabasePlan, error) {
	if database == "" {
		return nil, domain.ErrInvalidDatabaseName
	}

	required := domain.RequiredSchemasForDatabaseWithPrefix(database, s.databasePrefix)
	if len(required) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSchemasForDatabase, database)
	}

	plan, err := s.plan(ctx, "database", required)
	if err != nil {
		return nil, err
	}
	return &domain.DatabasePlan{
		Database:        database,
		RequiredSchemas: required,
		Plan:            plan,
	}, nil
}

// FlywayConfigs はデータベースの計画順にFlyway設定を生成する。
func (s *PlanService) FlywayConfigs(ctx context.Context, databaseURL, database string) ([]FlywayConfig, error) {
	password, err := s.credentials.password(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve flyway credentials",
			"operation", "flyway_configs",
			"database", database,
			"error", err,
		)
		return nil, err
	}
	return s.flywayConfigs(ctx, databaseURL, database, password)
}

// RedactedFlywayConfigs はパスワードを伏せたFlyway設定を生成する。
func (s *PlanService) RedactedFlywayConfigs(ctx context.Context, databaseURL, database string) ([]FlywayConfig, error) {
	return s.flywayConfigs(ctx, databaseURL, database, redactedPassword)
}

func (s *PlanService) flywayConfigs(ctx context.Context, databaseURL, database, password string) ([]FlywayConfig, error) {
	dp, err := s.PlanForDatabase(ctx, database)
	if err != nil {
		return nil, err
	}

	configs := make([]FlywayConfig, len(dp.Plan.Order))
	for i, m := range dp.Plan.Order {
		order := i + 1
		configs[i] = FlywayConfig{
			Order:             order,
			SchemaName:        m.SchemaName,
			MigrationLocation: m.MigrationLocation,
			FileName:          flyway.FileName(order, m.SchemaName),
			Content: s.renderer.Render(flyway.Params{
				DatabaseURL:       databaseURL,
				Username:          s.credentials.Username,
				Password:          password,
				SchemaName:        m.SchemaName,
				MigrationLocation: m.MigrationLocation,
			}),
		}
	}
	return configs, nil
}
