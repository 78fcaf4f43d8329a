// Package domain はドメインモデルとビジネスルールを定義する。
package domain

// SchemaType はマルチテナント構成におけるスキーマの役割を表す。
type SchemaType int

const (
	// SchemaTypeUnknown は厳格モードで分類できなかったスキーマを表す。
	SchemaTypeUnknown SchemaType = iota
	// SchemaTypePlatformCommon は全リージョン共通のプラットフォームスキーマ。
	SchemaTypePlatformCommon
	// SchemaTypeAdmin は管理用スキーマ。
	SchemaTypeAdmin
	// SchemaTypeTenantTemplate はテナントスキーマのテンプレート。
	SchemaTypeTenantTemplate
	// SchemaTypeAnalytics は分析用スキーマ。
	SchemaTypeAnalytics
	// SchemaTypeTenantSpecific は個別テナントのスキーマ。
	SchemaTypeTenantSpecific
)

// SchemaTypes は既知のスキーマ種別を宣言順に返す（Unknownは含まない）。
func SchemaTypes() []SchemaType {
	return []SchemaType{
		SchemaTypePlatformCommon,
		SchemaTypeAdmin,
		SchemaTypeTenantTemplate,
		SchemaTypeAnalytics,
		SchemaTypeTenantSpecific,
	}
}

var schemaTypeNames = map[SchemaType]string{
	SchemaTypeUnknown:        "unknown",
	SchemaTypePlatformCommon: "platform_common",
	SchemaTypeAdmin:          "admin",
	SchemaTypeTenantTemplate: "tenant_template",
	SchemaTypeAnalytics:      "analytics",
	SchemaTypeTenantSpecific: "tenant_specific",
}

// String は種別名を返す。
func (t SchemaType) String() string {
	if name, ok := schemaTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseSchemaType は種別名からSchemaTypeを得る。
func ParseSchemaType(name string) (SchemaType, bool) {
	for t, n := range schemaTypeNames {
		if t != SchemaTypeUnknown && n == name {
			return t, true
		}
	}
	return SchemaTypeUnknown, false
}

// CanonicalName は種別を代表するスキーマ名を返す。
// 単一インスタンスの種別は種別名と同じ名前のスキーマを持つ。
// テナント固有スキーマには代表インスタンスがないため false を返す。
func (t SchemaType) CanonicalName() (string, bool) {
	switch t {
	case SchemaTypePlatformCommon, SchemaTypeAdmin, SchemaTypeTenantTemplate, SchemaTypeAnalytics:
		return t.String(), true
	default:
		return "", false
	}
}

// Dependency はマイグレーションの依存先を表す。
// Schema が空の場合は Type の代表インスタンスへの依存として解決される。
type Dependency struct {
	Type   SchemaType
	Schema string
}

// OnType は種別への依存を生成する。
func OnType(t SchemaType) Dependency {
	return Dependency{Type: t}
}

// OnSchema は名前付きスキーマへの依存を生成する。
func OnSchema(name string) Dependency {
	return Dependency{Schema: name}
}

// Target は依存先のスキーマ名を返す。
func (d Dependency) Target() (string, bool) {
	if d.Schema != "" {
		return d.Schema, true
	}
	return d.Type.CanonicalName()
}

// String は依存先の表示名を返す。
func (d Dependency) String() string {
	if name, ok := d.Target(); ok {
		return name
	}
	return d.Type.String()
}

// SchemaMigration はマイグレーション対象のスキーマを表す。
type SchemaMigration struct {
	SchemaName        string
	SchemaType        SchemaType
	MigrationLocation string
	Dependencies      []Dependency
	// Synthesized は入力に含まれず依存解決で補完されたことを示す。
	Synthesized bool
}

// DependencyNames は依存先のスキーマ名を宣言順に返す。
func (m SchemaMigration) DependencyNames() []string {
	names := make([]string, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		names = append(names, d.String())
	}
	return names
}

// Edge は依存グラフ上の辺（From が To に依存する）を表す。
type Edge struct {
	From string
	To   string
}

// Plan は依存解決の結果を表す。
type Plan struct {
	Order []SchemaMigration
	// DroppedEdges は循環のため順序保証できなかった辺。
	DroppedEdges []Edge
}

// SchemaNames は実行順のスキーマ名を返す。
func (p *Plan) SchemaNames() []string {
	names := make([]string, len(p.Order))
	for i, m := range p.Order {
		names[i] = m.SchemaName
	}
	return names
}

// DatabasePlan はデータベース単位のマイグレーション計画を表す。
type DatabasePlan struct {
	Database        string
	RequiredSchemas []string
	Plan            *Plan
}
