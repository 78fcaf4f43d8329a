package domain

import "strings"

// RequiredSchemasForDatabase はデータベース名から移行が必要なスキーマ名を導出する。
// 該当しない場合は空のスライスを返す（移行対象なし）。
func RequiredSchemasForDatabase(databaseName string) []string {
	return RequiredSchemasForDatabaseWithPrefix(databaseName, DefaultDatabasePrefix)
}

// RequiredSchemasForDatabaseWithPrefix はテナントDB名から取り除く接頭辞を指定して
// RequiredSchemasForDatabase と同じ導出を行う。
func RequiredSchemasForDatabaseWithPrefix(databaseName, prefix string) []string {
	platform := SchemaTypePlatformCommon.String()
	switch {
	case strings.Contains(databaseName, "admin"):
		return []string{platform, SchemaTypeAdmin.String()}
	case strings.Contains(databaseName, "shared"):
		return []string{platform, SchemaTypeTenantTemplate.String()}
	case strings.Contains(databaseName, "analytics"):
		return []string{platform, SchemaTypeAnalytics.String()}
	case strings.HasPrefix(databaseName, tenantSchemaPrefix):
		return []string{platform, SchemaTypeTenantTemplate.String(), strings.TrimPrefix(databaseName, prefix)}
	default:
		return []string{}
	}
}
