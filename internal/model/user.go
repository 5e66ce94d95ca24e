package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHash はbcryptハッシュであり、APIレスポンスには含めない。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionChange はセッション状態の遷移通知を表す。
// Userがnilの場合はセッションの終了（ログアウト・失効）を意味する。
type SessionChange struct {
	SessionID string
	User      *User
}

// Ended はセッションが終了したことを示す通知かどうかを返す。
func (c SessionChange) Ended() bool {
	return c.User == nil
}
