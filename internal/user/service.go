// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/placebook/internal/locations"
	"github.com/hitoshi/placebook/internal/model"
	"github.com/hitoshi/placebook/internal/repository"
)

// WorkspaceCloser はユーザーの稼働中ワークスペースを停止するインターフェース。
// *locations.Hub がこれを満たす。
type WorkspaceCloser interface {
	CloseUser(userID string) int
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	documents   repository.DocumentStore
	workspaces  WorkspaceCloser
}

// NewService はServiceの新しいインスタンスを生成する。
// workspacesはnilでもよい（ワーカープロセスなどHubを持たない場合）。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	documents repository.DocumentStore,
	workspaces WorkspaceCloser,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		documents:   documents,
		workspaces:  workspaces,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → 稼働中のワークスペース → locations → user。
// 先にセッションを消して新しいリクエストを止め、ワークスペースの実行中の追加を待ってから
// ロケーションを削除する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 2. ワークスペースを停止
	closed := 0
	if s.workspaces != nil {
		closed = s.workspaces.CloseUser(userID)
	}

	// 3. ロケーションを削除
	deleted, err := s.documents.DeleteWhere(ctx, locations.Collection, locations.FieldOwnerID, userID)
	if err != nil {
		return fmt.Errorf("ロケーションの削除に失敗しました: %w", err)
	}

	// 4. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int64("deleted_locations", deleted),
		slog.Int("closed_workspaces", closed),
	)

	return nil
}
