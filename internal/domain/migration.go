package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration はスキーマに適用するマイグレーションファイルを表すドメインモデル
type Migration struct {
	SchemaName  string          // 適用先スキーマ
	Version     string          // マイグレーションバージョン（例: "1", "1.1"）
	Description string          // 説明（ファイル名から抽出）
	Checksum    string          // ファイル内容のチェックサム
	AppliedAt   *time.Time      // 適用日時（未適用の場合はnil）
	FilePath    string          // マイグレーションファイルのパス
	Status      MigrationStatus // 適用状態
	RunID       string          // 適用した実行のID
}

// SchemaStatus はスキーマごとのマイグレーション状況を表す
type SchemaStatus struct {
	Schema     SchemaMigration
	Migrations []*Migration
}

// Pending は未適用マイグレーション数を返す
func (s SchemaStatus) Pending() int {
	n := 0
	for _, m := range s.Migrations {
		if m.Status == MigrationStatusPending {
			n++
		}
	}
	return n
}
