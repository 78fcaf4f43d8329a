package flyway

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildConfig(t *testing.T) {
	got := BuildConfig("jdbc:postgresql://db:5432/neofast_admin", "flyway", "s3cret", "admin", "admin")

	want := `flyway.url=jdbc:postgresql://db:5432/neofast_admin
flyway.user=flyway
flyway.password=s3cret
flyway.schemas=admin
flyway.defaultSchema=admin
flyway.table=flyway_schema_history
flyway.locations=filesystem:/app/flyway/admin
flyway.baselineOnMigrate=true
flyway.validateOnMigrate=true
flyway.cleanDisabled=true
flyway.mixed=true
flyway.outOfOrder=false
`
	if got != want {
		t.Errorf("unexpected config:\nwant:\n%s\ngot:\n%s", want, got)
	}
}

func TestRenderer_Root(t *testing.T) {
	r := NewRenderer("/srv/migrations")
	got := r.Render(Params{SchemaName: "tenant_acme", MigrationLocation: "regional/shared"})

	if !strings.Contains(got, "flyway.locations=filesystem:/srv/migrations/regional/shared\n") {
		t.Errorf("unexpected locations line in:\n%s", got)
	}
	if !strings.Contains(got, "flyway.defaultSchema=tenant_acme\n") {
		t.Errorf("unexpected defaultSchema line in:\n%s", got)
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conf")

	p, err := WriteFile(dir, 1, "platform_common", "flyway.schemas=platform_common\n")
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if filepath.Base(p) != "01_platform_common.conf" {
		t.Errorf("unexpected file name: %s", p)
	}

	info, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("want mode 0600, got %v", info.Mode().Perm())
	}
}
