package domain

import "context"

type runIDKey struct{}

// ContextWithRunID はマイグレーション実行IDをコンテキストに設定する。
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext はコンテキストの実行IDを返す。未設定の場合は空文字。
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
