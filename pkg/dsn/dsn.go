// Package dsn は接続文字列の操作ユーティリティを提供する。
package dsn

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNoDatabase はDSNからデータベース名の位置を特定できない場合のエラー。
var ErrNoDatabase = errors.New("cannot locate database name in DSN")

// WithDatabase は接続先データベース名を差し替えたDSNを返す。
// URL形式（postgres://, jdbc:postgresql://, jdbc:mysql://）、PostgreSQLの key=value 形式、
// MySQLの user:pass@tcp(host)/db 形式に対応する。SQLiteのDSNはそのまま返す。
func WithDatabase(base, database string) (string, error) {
	if database == "" {
		return "", errors.New("database name is empty")
	}

	switch {
	case IsSQLite(base):
		return base, nil
	case strings.HasPrefix(base, "mysql://"):
		s, err := withMySQLDatabase(strings.TrimPrefix(base, "mysql://"), database)
		if err != nil {
			return "", err
		}
		return "mysql://" + s, nil
	case strings.Contains(base, "://"):
		return withURLDatabase(base, database)
	case isKeyValue(base):
		return withKeyValueDatabase(base, database), nil
	default:
		return withMySQLDatabase(base, database)
	}
}

// withURLDatabase はURLのパスをデータベース名に置き換える。クエリはそのまま残す。
func withURLDatabase(base, database string) (string, error) {
	prefix := ""
	raw := base
	if strings.HasPrefix(raw, "jdbc:") {
		prefix, raw = "jdbc:", strings.TrimPrefix(raw, "jdbc:")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDatabase, err)
	}
	if u.Host == "" {
		return "", ErrNoDatabase
	}
	u.Path = "/" + database
	u.RawPath = ""
	return prefix + u.String(), nil
}

// withMySQLDatabase はgo-sql-driver形式のDSNのデータベース名を置き換える。
func withMySQLDatabase(base, database string) (string, error) {
	c, err := mysql.ParseDSN(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDatabase, err)
	}
	c.DBName = database
	return c.FormatDSN(), nil
}

// isKeyValue は "host=db user=u dbname=x" 形式かを判定する。
func isKeyValue(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		key, _, ok := strings.Cut(f, "=")
		if !ok || key == "" || strings.ContainsAny(key, "/()@:?") {
			return false
		}
	}
	return true
}

// withKeyValueDatabase は dbname を置き換える。指定がなければ末尾に追加する。
func withKeyValueDatabase(base, database string) string {
	fields := strings.Fields(base)
	for i, f := range fields {
		if strings.HasPrefix(f, "dbname=") {
			fields[i] = "dbname=" + database
			return strings.Join(fields, " ")
		}
	}
	return strings.Join(append(fields, "dbname="+database), " ")
}

// IsSQLite はDSNがSQLiteを指すかを返す。
func IsSQLite(s string) bool {
	return strings.HasPrefix(s, "sqlite:") || strings.HasPrefix(s, "file:") || s == ":memory:" || strings.HasSuffix(s, ".db")
}
