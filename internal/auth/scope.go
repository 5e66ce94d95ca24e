package auth

import (
	"context"

	"github.com/hitoshi/placebook/internal/model"
)

// Scope は1つのクライアントセッションから見た認証状態。
// ワークスペースはScopeを通じて現在のユーザーの参照と遷移の購読を行う。
type Scope struct {
	svc       *Service
	sessionID string
}

// SessionID は対象のセッションIDを返す。
func (s *Scope) SessionID() string {
	return s.sessionID
}

// CurrentUser は現在のユーザーを返す。未認証の場合はnilを返す。
func (s *Scope) CurrentUser(ctx context.Context) (*model.User, error) {
	return s.svc.CurrentUser(ctx, s.sessionID)
}

// Subscribe はこのセッションの遷移通知を購読する。
func (s *Scope) Subscribe() (<-chan model.SessionChange, func()) {
	return s.svc.broker.Subscribe(s.sessionID)
}
