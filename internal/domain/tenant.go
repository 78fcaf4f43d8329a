package domain

import "time"

// TenantStatus はテナントの状態を表す。
type TenantStatus string

const (
	// TenantStatusActive は稼働中のテナント。
	TenantStatusActive TenantStatus = "active"
	// TenantStatusSuspended は停止中のテナント。
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant はスキーマを所有するテナントを表す。
type Tenant struct {
	ID           string
	Slug         string
	DatabaseName string
	Region       string
	Status       TenantStatus
	CreatedAt    time.Time
}

// TenantPlan はテナントDBに対するマイグレーション計画を表す。
// 移行対象のスキーマがない場合 Plan.Order は空になる。
type TenantPlan struct {
	Tenant Tenant
	DatabasePlan
}
