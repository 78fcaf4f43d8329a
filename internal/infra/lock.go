package infra

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"gorm.io/gorm"
)

// Locker はデータベース単位でマイグレーションの排他制御を行う。
// PostgreSQLではアドバイザリロック、MySQLではGET_LOCK、それ以外はプロセス内ミューテックスを使う。
type Locker struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewLocker は新しいLockerを生成する。
func NewLocker(db *gorm.DB) *Locker {
	return &Locker{db: db}
}

// Acquire はロックを取得し、解放関数を返す。
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	switch l.db.Dialector.Name() {
	case "postgres":
		return l.acquireSession(ctx, "SELECT pg_advisory_lock($1)", "SELECT pg_advisory_unlock($1)", hashLockKey(key))
	case "mysql":
		return l.acquireSession(ctx, "SELECT GET_LOCK(?, -1)", "SELECT RELEASE_LOCK(?)", key)
	default:
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		l.mu.Lock()
		return l.mu.Unlock, nil
	}
}

// acquireSession はセッションロックを専用コネクション上で取得する。
// ロックと解放は同じコネクションで行う必要がある。
func (l *Locker) acquireSession(ctx context.Context, lockSQL, unlockSQL string, arg any) (func(), error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, lockSQL, arg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), unlockSQL, arg)
		_ = conn.Close()
	}, nil
}

// hashLockKey はpg_advisory_lock用にキーをFNV-1aで非負のint64へ変換する。
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
