package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// pgNowRFC3339 はPostgreSQLの現在時刻をUTCのRFC 3339文字列で表す式。
const pgNowRFC3339 = `to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')`

// PostgresDocumentStore はJSONBカラムを使用したドキュメントストア。
type PostgresDocumentStore struct {
	db *sql.DB
}

// NewPostgresDocumentStore はPostgresDocumentStoreを生成する。
func NewPostgresDocumentStore(db *sql.DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

// Query はfieldの値がvalueと等しいドキュメントを挿入順で返す。
func (s *PostgresDocumentStore) Query(ctx context.Context, collection, field, value string) ([]Document, error) {
	if err := validateField(field); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents
		 WHERE collection = $1 AND data->>$2 = $3
		 ORDER BY seq`,
		collection, field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(id, raw)
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
// ServerTimestampのフィールドはjsonb_build_objectでnow()を埋め込む。
func (s *PostgresDocumentStore) Insert(ctx context.Context, collection string, fields Fields) (string, error) {
	data, stamps, err := splitFields(fields)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	args := []any{id, collection, string(data)}
	expr := "$3::jsonb"
	if len(stamps) > 0 {
		parts := make([]string, 0, len(stamps))
		for _, name := range stamps {
			args = append(args, name)
			parts = append(parts, fmt.Sprintf("$%d::text, %s", len(args), pgNowRFC3339))
		}
		expr += " || jsonb_build_object(" + strings.Join(parts, ", ") + ")"
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, collection, data) VALUES ($1, $2, `+expr+`)`,
		args...,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return id, nil
}

// DeleteWhere はfieldの値がvalueと等しいドキュメントを削除する。
func (s *PostgresDocumentStore) DeleteWhere(ctx context.Context, collection, field, value string) (int64, error) {
	if err := validateField(field); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND data->>$2 = $3`,
		collection, field, value,
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
var _ DocumentStore = (*PostgresDocumentStore)(nil)
