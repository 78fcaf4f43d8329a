package domain

import "errors"

var (
	// ErrUnknownSchema は厳格モードでスキーマ名を分類できない場合のエラー。
	ErrUnknownSchema = errors.New("unknown schema")

	// ErrInvalidTopology は依存テーブルまたはロケーションテーブルが不正な場合のエラー。
	ErrInvalidTopology = errors.New("invalid schema topology")

	// ErrNoSchemasForDatabase はデータベース名から対象スキーマを導出できない場合のエラー。
	ErrNoSchemasForDatabase = errors.New("no schemas for database")

	// ErrInvalidDatabaseName はデータベース名が不正な場合のエラー。
	ErrInvalidDatabaseName = errors.New("invalid database name")

	// ErrTenantNotFound は指定されたテナントが存在しない場合のエラー。
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrLockNotAcquired はマイグレーションロックを取得できない場合のエラー。
	ErrLockNotAcquired = errors.New("migration lock not acquired")

	// ErrChecksumMismatch は適用済みマイグレーションファイルが変更された場合のエラー。
	ErrChecksumMismatch = errors.New("migration checksum mismatch")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
