package domain

import "strings"

const tenantSchemaPrefix = "tenant_"

// Classifier はスキーマ名を命名規則から種別に分類する。
// Strict が false の場合、未知の名前はテナントテンプレートとして扱われる。
type Classifier struct {
	Strict bool
}

// Classify はスキーマ名の種別を返す。
func (c Classifier) Classify(schemaName string) SchemaType {
	switch schemaName {
	case "platform_common":
		return SchemaTypePlatformCommon
	case "admin":
		return SchemaTypeAdmin
	case "tenant_template":
		return SchemaTypeTenantTemplate
	case "analytics":
		return SchemaTypeAnalytics
	}
	if strings.HasPrefix(schemaName, tenantSchemaPrefix) {
		return SchemaTypeTenantSpecific
	}
	if c.Strict {
		return SchemaTypeUnknown
	}
	return SchemaTypeTenantTemplate
}

// Classify は寛容モードでスキーマ名を分類する。
func Classify(schemaName string) SchemaType {
	return Classifier{}.Classify(schemaName)
}
