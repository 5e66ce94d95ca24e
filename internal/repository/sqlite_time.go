package repository

import (
	"fmt"
	"time"
)

// sqliteTimeLayout はSQLiteに保存する時刻の書式。
// 固定長のUTC表記なので文字列比較で時刻の前後関係を判定できる。
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}
