package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/placebook/internal/middleware"
	"github.com/hitoshi/placebook/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signUpFn      func(ctx context.Context, email, password string) (*model.Session, error)
	signInFn      func(ctx context.Context, email, password string) (*model.Session, error)
	signOutFn     func(ctx context.Context, sessionID string) error
	currentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, sessionID)
	}
	return nil, nil
}

var testAuthConfig = AuthHandlerConfig{
	CookieDomain:  "",
	CookieSecure:  false,
	SessionMaxAge: 86400,
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, body *strings.Reader) middleware.ErrorResponseBody {
	t.Helper()
	var e middleware.ErrorResponseBody
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return e
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeError(t, strings.NewReader(w.Body.String())).Code
}

// --- テスト ---

func TestAuthHandler_SignUp_SetsCookieAndReturnsUser(t *testing.T) {
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			if email != "alice@example.com" || password != "password123" {
				t.Errorf("unexpected credentials: %q / %q", email, password)
			}
			return &model.Session{ID: "session-1", UserID: "user-1"}, nil
		},
		currentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: "alice@example.com", CreatedAt: time.Now()}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup",
		strings.NewReader(`{"email":"alice@example.com","password":"password123"}`))
	w := httptest.NewRecorder()
	h.SignUp(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	cookie := findCookie(resp, middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	if cookie.Value != "session-1" {
		t.Errorf("cookie value = %q, want %q", cookie.Value, "session-1")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if cookie.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", cookie.MaxAge)
	}

	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.ID != "user-1" || body.Email != "alice@example.com" {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthHandler_Login_FailuresAreGeneric(t *testing.T) {
	failures := []error{
		model.ErrInvalidCredentials,
		model.ErrEmailTaken,
		&model.ValidationError{Field: "email", Reason: "invalid format"},
		errors.New("db down"),
	}
	for _, failure := range failures {
		svc := &mockAuthService{
			signInFn: func(ctx context.Context, email, password string) (*model.Session, error) {
				return nil, failure
			},
		}
		h := NewAuthHandler(svc, testAuthConfig)

		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"a@example.com","password":"x"}`))
		w := httptest.NewRecorder()
		h.Login(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%v: status = %d, want %d", failure, w.Code, http.StatusUnauthorized)
		}
		if code := errorCode(t, w); code != model.ErrCodeAuthenticationFailed {
			t.Errorf("%v: code = %q, want %q", failure, code, model.ErrCodeAuthenticationFailed)
		}
		if findCookie(w.Result(), middleware.SessionCookieName) != nil {
			t.Errorf("%v: session cookie must not be set", failure)
		}
	}
}

func TestAuthHandler_Login_InvalidBody(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	for _, body := range []string{`not json`, `{"email":"a@example.com","password":"x","extra":1}`} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.Login(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	var signedOut string
	svc := &mockAuthService{
		signOutFn: func(ctx context.Context, sessionID string) error {
			signedOut = sessionID
			return nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if signedOut != "session-1" {
		t.Errorf("signed out session = %q, want %q", signedOut, "session-1")
	}
	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", cookie)
	}
}

func TestAuthHandler_Logout_ServiceErrorStillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		signOutFn: func(ctx context.Context, sessionID string) error {
			return errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-1"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) == nil {
		t.Error("session cookie should be cleared")
	}
}

func TestAuthHandler_Me(t *testing.T) {
	svc := &mockAuthService{
		currentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			if sessionID == "valid" {
				return &model.User{ID: "user-1", Email: "alice@example.com"}, nil
			}
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	tests := []struct {
		name       string
		cookie     string
		wantStatus int
	}{
		{"Cookieなし", "", http.StatusUnauthorized},
		{"無効なセッション", "expired", http.StatusUnauthorized},
		{"有効なセッション", "valid", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			h.Me(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				var body userResponse
				json.NewDecoder(w.Body).Decode(&body)
				if body.Email != "alice@example.com" {
					t.Errorf("email = %q, want alice@example.com", body.Email)
				}
			}
		})
	}
}
