package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/placebook/internal/model"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// bcryptのコストはデフォルト値を使う。
const passwordHashCost = bcrypt.DefaultCost

// NormalizeEmail はメールアドレスの前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail は正規化済みメールアドレスの形式を検証する。
// 表示名付きの形式（"Name <a@example.com>"）は受け付けない。
func ValidateEmail(email string) error {
	if email == "" {
		return &model.ValidationError{Field: "email", Reason: "required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &model.ValidationError{Field: "email", Reason: "malformed address"}
	}
	return nil
}

// ValidatePassword はパスワードの強度を検証する。
// 8文字以上で、英字と数字をそれぞれ1文字以上含む必要がある。
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return &model.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return &model.ValidationError{Field: "password", Reason: "must contain both letters and digits"}
	}
	return nil
}

// HashPassword はパスワードのbcryptハッシュを返す。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword はパスワードがハッシュと一致するかを検証する。
// 一致しない場合はmodel.ErrInvalidCredentialsを返す。
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return model.ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("failed to compare password hash: %w", err)
	}
	return nil
}
