package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// runCLI はコマンドを実行し、標準出力の内容を返す。
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if out != "migratectl version "+version+"\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestPlanCmd_Text(t *testing.T) {
	out, err := runCLI(t, "plan", "tenant_acme")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("want header and 3 rows, got:\n%s", out)
	}
	for i, want := range []string{"platform_common *", "tenant_template *", "tenant_acme"} {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("row %d: want %q in %q", i+1, want, lines[i+1])
		}
	}
}

func TestPlanCmd_DatabaseJSON(t *testing.T) {
	out, err := runCLI(t, "plan", "--database", "neofast_admin", "--output", "json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	var resp struct {
		RequiredSchemas []string `json:"required_schemas"`
		Plan            struct {
			Order []struct {
				SchemaName string `json:"schema_name"`
			} `json:"order"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("failed to decode output: %v\n%s", err, out)
	}
	if len(resp.Plan.Order) != 2 || resp.Plan.Order[0].SchemaName != "platform_common" {
		t.Errorf("unexpected plan: %+v", resp.Plan)
	}
}

func TestPlanCmd_NoSchemas(t *testing.T) {
	out, err := runCLI(t, "plan", "--database", "billing")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !strings.Contains(out, "No schemas to migrate") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestPlanCmd_RequiresInput(t *testing.T) {
	if _, err := runCLI(t, "plan"); err == nil {
		t.Error("expected error without schemas or --database")
	}
}

func TestConfigCmd_WritesFiles(t *testing.T) {
	t.Setenv("FLYWAY_USER", "flyway")
	t.Setenv("FLYWAY_PASSWORD", "secret")
	t.Setenv("FLYWAY_PASSWORD_CIPHERTEXT", "")
	outDir := t.TempDir()

	out, err := runCLI(t, "config", "--database", "tenant_acme", "--out", outDir, "--url", "jdbc:postgresql://db:5432/postgres")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if strings.Count(out, "\n") != 3 {
		t.Errorf("want 3 written files, got:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "03_tenant_acme.conf"))
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	for _, want := range []string{
		"flyway.url=jdbc:postgresql://db:5432/tenant_acme\n",
		"flyway.password=secret\n",
		"flyway.schemas=tenant_acme\n",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config does not contain %q:\n%s", want, data)
		}
	}
}

// setupMigrateEnv はSQLiteファイルとマイグレーションディレクトリを用意し、環境変数を設定する。
func setupMigrateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	migrationsDir := filepath.Join(dir, "flyway")
	for name, content := range map[string]string{
		"platform/V1__create_settings.sql": "CREATE TABLE settings (id INT);",
		"admin/V1__create_operators.sql":   "CREATE TABLE operators (id INT);",
	} {
		p := filepath.Join(migrationsDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write migration: %v", err)
		}
	}
	t.Setenv("DATABASE_URL", filepath.Join(dir, "migrate.db"))
	t.Setenv("MIGRATIONS_DIR", migrationsDir)
}

func TestMigrateCmd_UpAndStatus(t *testing.T) {
	setupMigrateEnv(t)
	t.Setenv("PUSHGATEWAY_URL", "")

	out, err := runCLI(t, "migrate", "up", "--database", "neofast_admin")
	if err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	if !strings.Contains(out, "neofast_admin: applied 2 migration(s) successfully.") {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = runCLI(t, "migrate", "up", "--database", "neofast_admin")
	if err != nil {
		t.Fatalf("second migrate up failed: %v", err)
	}
	if !strings.Contains(out, "no pending migrations") {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = runCLI(t, "migrate", "status", "--database", "neofast_admin")
	if err != nil {
		t.Fatalf("migrate status failed: %v", err)
	}
	if strings.Count(out, "applied") != 2 {
		t.Errorf("want 2 applied rows, got:\n%s", out)
	}
}

func TestMigrateCmd_UpPushesMetrics(t *testing.T) {
	setupMigrateEnv(t)

	var mu sync.Mutex
	var method, path string
	var body []byte
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()
	t.Setenv("PUSHGATEWAY_URL", gateway.URL)

	out, err := runCLI(t, "migrate", "up", "--database", "neofast_admin")
	if err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	if !strings.HasPrefix(out, "run ") {
		t.Errorf("want run id in output, got %q", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/metrics/job/migratectl" {
		t.Errorf("unexpected push request: %s %s", method, path)
	}
	for _, name := range []string{"schema_migration_migrations_applied_total", "schema_migration_plans_resolved_total"} {
		if !bytes.Contains(body, []byte(name)) {
			t.Errorf("pushed metrics do not include %s", name)
		}
	}
}

func TestTenantsCmd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tenants/plans" || r.URL.Query().Get("region") != "jp" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tenants":[{"tenant_id":"t-1","slug":"acme","region":"jp","database":"tenant_acme","required_schemas":[],"plan":{"order":[{"schema_name":"platform_common"},{"schema_name":"tenant_template"},{"schema_name":"tenant_acme"}]}}]}`))
	}))
	defer server.Close()

	out, err := runCLI(t, "tenants", "--api-url", server.URL, "--region", "jp")
	if err != nil {
		t.Fatalf("tenants failed: %v", err)
	}
	if !strings.Contains(out, "platform_common -> tenant_template -> tenant_acme") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestTenantsCmd_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"INTERNAL_ERROR","message":"internal server error"}`))
	}))
	defer server.Close()

	_, err := runCLI(t, "tenants", "--api-url", server.URL)
	if err == nil || err.Error() != "Error: internal server error" {
		t.Errorf("want API error message, got %v", err)
	}
}

func TestHandleErrorResponse_NonJSON(t *testing.T) {
	err := handleErrorResponse(http.StatusBadGateway, []byte("<html>"))
	if err == nil || err.Error() != "Error: server returned status 502" {
		t.Errorf("unexpected error: %v", err)
	}
}
