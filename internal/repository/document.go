package repository

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// Document はストアから取得したドキュメントを表す。
// Dataの値はJSONデコード結果（文字列、float64、bool、nil、ネストしたmap/slice）になる。
type Document struct {
	ID   string
	Data map[string]any
}

// Fields は挿入するドキュメントのフィールド。
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp はInsert時にデータベースの時刻で置き換えるフィールド値。
var ServerTimestamp any = serverTimestamp{}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateField はフィールド名がクエリで安全に扱える形式かを検証する。
func validateField(field string) error {
	if !fieldNamePattern.MatchString(field) {
		return fmt.Errorf("invalid document field name: %q", field)
	}
	return nil
}

// splitFields はServerTimestampのフィールドとそれ以外を分離する。
// 通常フィールドはJSONにエンコードして返し、タイムスタンプのフィールド名は昇順で返す。
func splitFields(fields Fields) ([]byte, []string, error) {
	plain := make(map[string]any, len(fields))
	var stamps []string
	for k, v := range fields {
		if err := validateField(k); err != nil {
			return nil, nil, err
		}
		if v == ServerTimestamp {
			stamps = append(stamps, k)
			continue
		}
		plain[k] = v
	}
	sort.Strings(stamps)

	data, err := json.Marshal(plain)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, stamps, nil
}

func decodeDocument(id string, raw []byte) (Document, error) {
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return Document{}, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return Document{ID: id, Data: data}, nil
}
