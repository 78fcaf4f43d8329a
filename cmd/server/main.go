// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schema-migration-service/config"
	"schema-migration-service/internal/flyway"
	"schema-migration-service/internal/handler"
	"schema-migration-service/internal/infra"
	"schema-migration-service/internal/repository"
	"schema-migration-service/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, os.Stdout)

	// 管理DB初期化（テナント一覧の取得に使う）
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}
	db, err := infra.NewDB(cfg.DatabaseURL, cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := infra.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	resolver, err := config.NewResolver(cfg)
	if err != nil {
		slog.Error("failed to load schema topology", "error", err)
		os.Exit(1)
	}

	// メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewPlanMetrics(reg)

	// DI
	// APIはパスワードを伏せた設定のみ返すため、KMSによる復号は行わない
	credentials := usecase.Credentials{Username: cfg.FlywayUser}
	planService := usecase.NewPlanService(resolver, cfg.DatabasePrefix, flyway.NewRenderer(cfg.FlywayRoot), credentials, metrics)
	tenantService := usecase.NewTenantPlanService(repository.NewTenantRepository(db), planService)

	flywayURL := cfg.FlywayURL
	if flywayURL == "" {
		flywayURL = cfg.DatabaseURL
	}
	h := handler.NewPlanHandler(planService, tenantService, flywayURL)
	router := handler.NewRouter(h, cfg, reg)

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
