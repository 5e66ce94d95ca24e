package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ドライバ名（database/sqlに登録される名前）
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open は指定ドライバでデータベース接続を開く。
// driverは "postgres" または "sqlite" を指定する。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
//
// SQLiteの場合は外部キー制約を有効化し、接続数を1に制限する。
// インメモリDBは接続ごとに別のデータベースになるため、この制限が必要になる。
func Open(driver, databaseURL string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		db, err := sql.Open(DriverPostgres, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil
	case DriverSQLite:
		db, err := sql.Open(DriverSQLite, sqliteDSN(databaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// sqliteDSN はDSNに外部キー有効化のpragmaを付与する。
// "sqlite://" スキームはmigrate用の表記なので取り除く。
func sqliteDSN(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}
