package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/placebook/internal/middleware"
	"github.com/hitoshi/placebook/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// locations、sessions、userを削除し、稼働中のワークスペースを停止する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	auth    AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
// 退会後にセッションCookieを削除するため認証ハンドラーの設定を受け取る。
func NewUserHandler(service UserServiceInterface, auth AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		auth:    auth,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	setSessionCookie(w, h.auth, "", -1)
	w.WriteHeader(http.StatusNoContent)
}
