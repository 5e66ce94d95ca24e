package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newCSRFTestHandler(called *bool) http.Handler {
	return NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddleware_SafeMethods_PassThroughAndIssueCookie(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			handler := newCSRFTestHandler(&called)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/api/locations", nil))

			if !called {
				t.Fatalf("handler should have been called for %s request", method)
			}
			var found bool
			for _, c := range w.Result().Cookies() {
				if c.Name == csrfCookieName && c.Value != "" {
					found = true
					if c.HttpOnly {
						t.Error("CSRF cookie must be readable from JavaScript")
					}
				}
			}
			if !found {
				t.Error("expected CSRF cookie to be issued")
			}
		})
	}
}

func TestCSRFMiddleware_SafeMethod_KeepsExistingCookie(t *testing.T) {
	called := false
	handler := newCSRFTestHandler(&called)

	req := httptest.NewRequest(http.MethodGet, "/api/locations", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if len(w.Result().Cookies()) != 0 {
		t.Errorf("cookie should not be reissued, got %v", w.Result().Cookies())
	}
}

func TestCSRFMiddleware_StateChanging(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{"Cookieなし", "", "token", http.StatusForbidden},
		{"ヘッダーなし", "token", "", http.StatusForbidden},
		{"不一致", "token-a", "token-b", http.StatusForbidden},
		{"一致", "token-a", "token-a", http.StatusOK},
	}

	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				called := false
				handler := newCSRFTestHandler(&called)

				req := httptest.NewRequest(method, "/api/locations", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				if w.Code != tt.wantStatus {
					t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
				}
				if called != (tt.wantStatus == http.StatusOK) {
					t.Errorf("handler called = %v", called)
				}
				if tt.wantStatus == http.StatusForbidden {
					var body ErrorResponseBody
					if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
						t.Fatalf("failed to decode response: %v", err)
					}
					if body.Code != ErrCodeCSRFValidationFailed {
						t.Errorf("code = %q, want %q", body.Code, ErrCodeCSRFValidationFailed)
					}
				}
			})
		}
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true, CookieDomain: "example.com"})

	t.Run("新規発行", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(body.Token) != 64 {
			t.Errorf("token length = %d, want 64", len(body.Token))
		}
		cookies := w.Result().Cookies()
		if len(cookies) != 1 {
			t.Fatalf("cookies = %d, want 1", len(cookies))
		}
		if cookies[0].Value != body.Token {
			t.Error("cookie value should match response token")
		}
		if !cookies[0].Secure {
			t.Error("cookie should be Secure")
		}
		if cookies[0].Domain != "example.com" {
			t.Errorf("domain = %q, want example.com", cookies[0].Domain)
		}
	})

	t.Run("既存トークンを返す", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Token != "existing-token" {
			t.Errorf("token = %q, want existing-token", body.Token)
		}
	})
}
