// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/placebook/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はmodel.ErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DocumentStore はスキーマレスなドキュメントの永続化インターフェース。
// ドキュメントはコレクション単位で管理し、フィールドの等値検索のみを提供する。
type DocumentStore interface {
	// Query はfieldの値がvalueと等しいドキュメントを挿入順で返す。
	// 該当なしの場合は空スライスを返す。
	Query(ctx context.Context, collection, field, value string) ([]Document, error)

	// Insert はドキュメントを作成し、採番したIDを返す。
	// 値がServerTimestampのフィールドはデータベースの時刻（RFC 3339文字列）に置き換える。
	Insert(ctx context.Context, collection string, fields Fields) (string, error)

	// DeleteWhere はfieldの値がvalueと等しいドキュメントを削除し、削除件数を返す。
	DeleteWhere(ctx context.Context, collection, field, value string) (int64, error)
}
