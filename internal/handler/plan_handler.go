// Package handler はHTTPハンドラを提供する。
package handler

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"schema-migration-service/internal/domain"
	"schema-migration-service/internal/middleware"
	"schema-migration-service/internal/usecase"
	"schema-migration-service/pkg/dsn"
	"schema-migration-service/pkg/httputil"
)

var databaseNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// PlanHandler はマイグレーション計画のHTTPハンドラを提供する。
type PlanHandler struct {
	plans     *usecase.PlanService
	tenants   *usecase.TenantPlanService
	flywayURL string
}

// NewPlanHandler は新しいPlanHandlerを生成する。
// flywayURL はFlyway設定に埋め込む接続URLの雛形で、データベース名は差し替えられる。
func NewPlanHandler(plans *usecase.PlanService, tenants *usecase.TenantPlanService, flywayURL string) *PlanHandler {
	return &PlanHandler{plans: plans, tenants: tenants, flywayURL: flywayURL}
}

func validateDatabaseName(database string) error {
	if database == "" || len(database) > 64 {
		return domain.ErrInvalidDatabaseName
	}
	if !databaseNameRegex.MatchString(database) {
		return domain.ErrInvalidDatabaseName
	}
	return nil
}

// SchemaMigrationResponse はマイグレーション対象スキーマのレスポンス形式。
type SchemaMigrationResponse struct {
	SchemaName        string   `json:"schema_name"`
	SchemaType        string   `json:"schema_type"`
	MigrationLocation string   `json:"migration_location"`
	Dependencies      []string `json:"dependencies"`
	Synthesized       bool     `json:"synthesized"`
}

// EdgeResponse は順序保証できなかった依存のレスポンス形式。
type EdgeResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PlanResponse は計画のレスポンス形式。
type PlanResponse struct {
	Order        []SchemaMigrationResponse `json:"order"`
	DroppedEdges []EdgeResponse            `json:"dropped_edges,omitempty"`
}

// DatabasePlanResponse はデータベース単位の計画のレスポンス形式。
type DatabasePlanResponse struct {
	Database        string       `json:"database"`
	RequiredSchemas []string     `json:"required_schemas"`
	Plan            PlanResponse `json:"plan"`
}

// TenantPlanResponse はテナント単位の計画のレスポンス形式。
type TenantPlanResponse struct {
	TenantID string `json:"tenant_id"`
	Slug     string `json:"slug"`
	Region   string `json:"region"`
	DatabasePlanResponse
}

// TenantPlanListResponse はテナント計画一覧のレスポンス形式。
type TenantPlanListResponse struct {
	Tenants []TenantPlanResponse `json:"tenants"`
}

// FlywayConfigsResponse はFlyway設定一覧のレスポンス形式。
type FlywayConfigsResponse struct {
	Database string                 `json:"database"`
	Configs  []usecase.FlywayConfig `json:"configs"`
}

// CreatePlanRequest は計画作成リクエストの形式。
type CreatePlanRequest struct {
	Schemas []string `json:"schemas"`
}

// NewPlanResponse は計画をレスポンス形式に変換する。
func NewPlanResponse(plan *domain.Plan) PlanResponse {
	resp := PlanResponse{Order: make([]SchemaMigrationResponse, len(plan.Order))}
	for i, m := range plan.Order {
		resp.Order[i] = SchemaMigrationResponse{
			SchemaName:        m.SchemaName,
			SchemaType:        m.SchemaType.String(),
			MigrationLocation: m.MigrationLocation,
			Dependencies:      m.DependencyNames(),
			Synthesized:       m.Synthesized,
		}
	}
	for _, e := range plan.DroppedEdges {
		resp.DroppedEdges = append(resp.DroppedEdges, EdgeResponse{From: e.From, To: e.To})
	}
	return resp
}

// NewDatabasePlanResponse はデータベース単位の計画をレスポンス形式に変換する。
func NewDatabasePlanResponse(dp domain.DatabasePlan) DatabasePlanResponse {
	return DatabasePlanResponse{
		Database:        dp.Database,
		RequiredSchemas: dp.RequiredSchemas,
		Plan:            NewPlanResponse(dp.Plan),
	}
}

func emptyDatabasePlan(database string) domain.DatabasePlan {
	return domain.DatabasePlan{
		Database:        database,
		RequiredSchemas: []string{},
		Plan:            &domain.Plan{Order: []domain.SchemaMigration{}},
	}
}

// CreatePlan はスキーマ名の一覧から計画を作成する。
func (h *PlanHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be {\"schemas\": [...]}")
		return
	}
	if req.Schemas == nil {
		req.Schemas = []string{}
	}

	plan, err := h.plans.PlanForSchemas(r.Context(), req.Schemas)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSchema) {
			httputil.Error(w, http.StatusUnprocessableEntity, "UNKNOWN_SCHEMA", err.Error())
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, NewPlanResponse(plan))
}

// GetDatabasePlan はデータベース名から計画を作成する。
// 移行対象のスキーマがない場合は空の計画を返す。
func (h *PlanHandler) GetDatabasePlan(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	if err := validateDatabaseName(database); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_DATABASE_NAME", "invalid database name format")
		return
	}

	dp, err := h.plans.PlanForDatabase(r.Context(), database)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoSchemasForDatabase):
			httputil.JSON(w, http.StatusOK, NewDatabasePlanResponse(emptyDatabasePlan(database)))
		case errors.Is(err, domain.ErrUnknownSchema):
			httputil.Error(w, http.StatusUnprocessableEntity, "UNKNOWN_SCHEMA", err.Error())
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, NewDatabasePlanResponse(*dp))
}

// GetFlywayConfigs はデータベースのFlyway設定をパスワードを伏せて返す。
func (h *PlanHandler) GetFlywayConfigs(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	if err := validateDatabaseName(database); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_DATABASE_NAME", "invalid database name format")
		return
	}

	url, err := dsn.WithDatabase(h.flywayURL, database)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "flyway URL is not configured")
		return
	}

	configs, err := h.plans.RedactedFlywayConfigs(r.Context(), url, database)
	if err != nil {
		if errors.Is(err, domain.ErrNoSchemasForDatabase) {
			httputil.JSON(w, http.StatusOK, FlywayConfigsResponse{Database: database, Configs: []usecase.FlywayConfig{}})
			return
		}
		middleware.WriteAuditLog(r.Context(), "RENDER_FLYWAY_CONFIGS", database, "", "FAILED")
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "RENDER_FLYWAY_CONFIGS", database, "", "SUCCESS")
	httputil.JSON(w, http.StatusOK, FlywayConfigsResponse{Database: database, Configs: configs})
}

// ListTenantPlans は稼働中の全テナントの計画を返す。
func (h *PlanHandler) ListTenantPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.tenants.PlanAll(r.Context(), r.URL.Query().Get("region"))
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	resp := TenantPlanListResponse{Tenants: make([]TenantPlanResponse, len(plans))}
	for i, tp := range plans {
		resp.Tenants[i] = toTenantPlanResponse(tp)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GetTenantPlan はスラッグで指定したテナントの計画を返す。
func (h *PlanHandler) GetTenantPlan(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := validateDatabaseName(slug); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_TENANT", "invalid tenant slug format")
		return
	}

	tp, err := h.tenants.PlanForTenant(r.Context(), slug)
	if err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			httputil.Error(w, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	httputil.JSON(w, http.StatusOK, toTenantPlanResponse(*tp))
}

func toTenantPlanResponse(tp domain.TenantPlan) TenantPlanResponse {
	return TenantPlanResponse{
		TenantID:             tp.Tenant.ID,
		Slug:                 tp.Tenant.Slug,
		Region:               tp.Tenant.Region,
		DatabasePlanResponse: NewDatabasePlanResponse(tp.DatabasePlan),
	}
}
