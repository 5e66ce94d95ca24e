package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// sqliteNowRFC3339 はSQLiteの現在時刻をUTCのRFC 3339文字列で表す式。
const sqliteNowRFC3339 = `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

// SQLiteDocumentStore はJSON1関数を使用したSQLiteのドキュメントストア。
type SQLiteDocumentStore struct {
	db *sql.DB
}

// NewSQLiteDocumentStore はSQLiteDocumentStoreを生成する。
func NewSQLiteDocumentStore(db *sql.DB) *SQLiteDocumentStore {
	return &SQLiteDocumentStore{db: db}
}

func jsonPath(field string) string {
	return `$."` + field + `"`
}

// Query はfieldの値がvalueと等しいドキュメントを挿入順（rowid順）で返す。
func (s *SQLiteDocumentStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	if err := validateField(field); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents
		 WHERE collection = ? AND json_extract(data, ?) = ?
		 ORDER BY rowid`,
		collection, jsonPath(field), value,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(id, []byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// Insert はドキュメントを作成し、採番したIDを返す。
// ServerTimestampのフィールドはjson_patchでstrftime('now')を埋め込む。
func (s *SQLiteDocumentStore) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	data, stamps, err := splitFields(fields)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	args := []any{id, collection, string(data)}
	expr := "json(?)"
	if len(stamps) > 0 {
		parts := make([]string, 0, len(stamps))
		for _, name := range stamps {
			args = append(args, name)
			parts = append(parts, "?, "+sqliteNowRFC3339)
		}
		expr = "json_patch(json(?), json_object(" + strings.Join(parts, ", ") + "))"
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, data) VALUES (?, ?, `+expr+`)`,
		args...,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return id, nil
}

// DeleteWhere はfieldの値がvalueと等しいドキュメントを削除する。
func (s *SQLiteDocumentStore) DeleteWhere(ctx context.Context, collection, field, value string) (int64, error) {
	if err := validateField(field); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND json_extract(data, ?) = ?`,
		collection, jsonPath(field), value,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ DocumentStore = (*SQLiteDocumentStore)(nil)
