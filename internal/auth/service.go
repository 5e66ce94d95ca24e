// Package auth はメールアドレスとパスワードによる認証、セッション管理、
// セッション遷移の通知を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/placebook/internal/model"
	"github.com/hitoshi/placebook/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
// セッションの発行・破棄のたびにBrokerへ遷移を通知する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	broker      *Broker
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。brokerがnilの場合は新しいBrokerを使う。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	broker *Broker,
	config ServiceConfig,
) *Service {
	if broker == nil {
		broker = NewBroker()
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		broker:      broker,
		config:      config,
		now:         time.Now,
	}
}

// Broker はセッション遷移の配信に使うBrokerを返す。
func (s *Service) Broker() *Broker {
	return s.broker
}

// SignUp はユーザーを登録し、セッションを発行する。
// メールアドレスは正規化してから検証・保存する。
func (s *Service) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user signed up", slog.String("user_id", user.ID))

	return s.startSession(ctx, user)
}

// SignIn はメールアドレスとパスワードを検証し、セッションを発行する。
// ユーザーが存在しない場合もパスワード不一致と同じmodel.ErrInvalidCredentialsを返す。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.ErrInvalidCredentials
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrInvalidCredentials
	}
	if err := CheckPassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))

	return s.startSession(ctx, user)
}

// SignOut はセッションを破棄し、セッション終了を通知する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("session_id", sessionID))
	s.broker.Publish(ctx, model.SessionChange{SessionID: sessionID})
	return nil
}

// CurrentUser はセッションに紐づくユーザーを返す。
// セッションが存在しない、期限切れ、またはユーザーが削除済みの場合はnilを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Scope はsessionIDに限定したセッションの参照を返す。
func (s *Service) Scope(sessionID string) *Scope {
	return &Scope{svc: s, sessionID: sessionID}
}

// startSession はセッションを作成し、開始を通知する。
func (s *Service) startSession(ctx context.Context, user *model.User) (*model.Session, error) {
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.broker.Publish(ctx, model.SessionChange{SessionID: session.ID, User: user})
	return session, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
