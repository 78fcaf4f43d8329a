package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"schema-migration-service/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// StartRun は実行IDが未設定ならUUIDを払い出してコンテキストに設定する。
// 同じ実行で適用したマイグレーションは履歴とログで同じ実行IDを持つ。
func StartRun(ctx context.Context) (context.Context, string) {
	if id := domain.RunIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return domain.ContextWithRunID(ctx, id), id
}

// MigratorFactory はデータベースごとのMigrationServiceを生成する。
// 返される close は接続を解放する。
type MigratorFactory func(ctx context.Context, database string) (*MigrationService, func() error, error)

// MigrationResult はデータベース1つ分の適用結果。
type MigrationResult struct {
	Database string `json:"database"`
	Applied  int    `json:"applied"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MigrationRunner は複数のデータベースへマイグレーションを並行して適用する。
// データベース内のスキーマは常に計画順に逐次適用される。
type MigrationRunner struct {
	plans       *PlanService
	open        MigratorFactory
	parallelism int
}

// NewMigrationRunner は新しいMigrationRunnerを生成する。
func NewMigrationRunner(plans *PlanService, open MigratorFactory, parallelism int) *MigrationRunner {
	if parallelism < 1 {
		parallelism = 1
	}
	return &MigrationRunner{plans: plans, open: open, parallelism: parallelism}
}

// ApplyAll は各データベースの計画を作成して適用する。
// 1つのデータベースの失敗は他のデータベースの適用を止めない。結果は入力順に返す。
func (r *MigrationRunner) ApplyAll(ctx context.Context, databases []string) ([]MigrationResult, error) {
	ctx, _ = StartRun(ctx)
	results := make([]MigrationResult, len(databases))
	errs := make([]error, len(databases))

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, database := range databases {
		i, database := i, database
		g.Go(func() error {
			results[i], errs[i] = r.apply(ctx, database)
			if errs[i] != nil {
				results[i].Error = errs[i].Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func (r *MigrationRunner) apply(ctx context.Context, database string) (MigrationResult, error) {
	result := MigrationResult{Database: database}

	dp, err := r.plans.PlanForDatabase(ctx, database)
	if err != nil {
		if errors.Is(err, domain.ErrNoSchemasForDatabase) {
			slog.InfoContext(ctx, "no schemas to migrate",
				"operation", "apply_all",
				"database", database,
			)
			result.Skipped = true
			return result, nil
		}
		return result, fmt.Errorf("%s: %w", database, err)
	}

	migrator, closeFn, err := r.open(ctx, database)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open database",
			"operation", "apply_all",
			"database", database,
			"error", err,
		)
		return result, fmt.Errorf("%s: %w", database, err)
	}
	defer func() {
		if err := closeFn(); err != nil {
			slog.WarnContext(ctx, "failed to close database",
				"operation", "apply_all",
				"database", database,
				"error", err,
			)
		}
	}()

	applied, err := migrator.ApplyPlan(ctx, database, dp.Plan)
	result.Applied = applied
	if err != nil {
		return result, fmt.Errorf("%s: %w", database, err)
	}
	return result, nil
}
