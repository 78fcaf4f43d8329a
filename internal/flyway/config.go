// Package flyway はFlyway互換ツール向けの設定ファイルを生成する。
package flyway

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"text/template"
)

// DefaultRoot はマイグレーションファイルを配置するファイルシステム上のルート。
const DefaultRoot = "/app/flyway"

// HistoryTable はFlywayが適用履歴を記録するテーブル名。
const HistoryTable = "flyway_schema_history"

const configTemplate = `flyway.url={{.DatabaseURL}}
flyway.user={{.Username}}
flyway.password={{.Password}}
flyway.schemas={{.SchemaName}}
flyway.defaultSchema={{.SchemaName}}
flyway.table={{.Table}}
flyway.locations=filesystem:{{.Location}}
flyway.baselineOnMigrate=true
flyway.validateOnMigrate=true
flyway.cleanDisabled=true
flyway.mixed=true
flyway.outOfOrder=false
`

var tmpl = template.Must(template.New("flyway.conf").Parse(configTemplate))

// Params は設定ファイル1つ分の入力。
type Params struct {
	DatabaseURL       string
	Username          string
	Password          string
	SchemaName        string
	MigrationLocation string
}

// Renderer はルートディレクトリを指定して設定ファイルを生成する。
type Renderer struct {
	Root string
}

// NewRenderer は新しいRendererを生成する。root が空の場合は DefaultRoot を使う。
func NewRenderer(root string) *Renderer {
	if root == "" {
		root = DefaultRoot
	}
	return &Renderer{Root: root}
}

// Render は設定ファイルの内容を返す。
func (r *Renderer) Render(p Params) string {
	var buf bytes.Buffer
	// テンプレートは文字列フィールドのみを参照するため実行時エラーにならない
	_ = tmpl.Execute(&buf, struct {
		Params
		Table    string
		Location string
	}{
		Params:   p,
		Table:    HistoryTable,
		Location: path.Join(r.Root, p.MigrationLocation),
	})
	return buf.String()
}

// BuildConfig は既定のルートで設定ファイルの内容を返す。
func BuildConfig(databaseURL, username, password, schemaName, migrationLocation string) string {
	return NewRenderer(DefaultRoot).Render(Params{
		DatabaseURL:       databaseURL,
		Username:          username,
		Password:          password,
		SchemaName:        schemaName,
		MigrationLocation: migrationLocation,
	})
}

// FileName はスキーマ用の設定ファイル名を返す。
// 実行順を保つため順序番号を接頭辞に付ける。
func FileName(order int, schemaName string) string {
	return fmt.Sprintf("%02d_%s.conf", order, schemaName)
}

// WriteFile は設定ファイルをディレクトリに書き出し、そのパスを返す。
func WriteFile(dir string, order int, schemaName, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	p := filepath.Join(dir, FileName(order, schemaName))
	// 認証情報を含むため所有者のみ読み書き可能にする
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("writing flyway config: %w", err)
	}
	return p, nil
}
