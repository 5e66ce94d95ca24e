// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated はセッションが必要な操作を未認証で呼び出した場合のエラー。
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合のエラー。
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrEmailTaken はサインアップ時にメールアドレスが既に登録済みの場合のエラー。
var ErrEmailTaken = errors.New("email already registered")

// ValidationError は入力値の検証エラーを表す。
type ValidationError struct {
	Field  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, location, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeLocationNotFound     = "LOCATION_NOT_FOUND"
	ErrCodeRemoteFailure        = "REMOTE_FAILURE"
	ErrCodeCapitalsUnavailable  = "CAPITALS_UNAVAILABLE"
	ErrCodeInvalidCountryCode   = "INVALID_COUNTRY_CODE"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
)

// NewAuthenticationFailedError は認証失敗エラーを生成する。
// サインイン・サインアップの失敗理由は区別せず、常にこのエラーを返す。
func NewAuthenticationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  "認証に失敗しました。メールアドレスとパスワードを確認してください。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidInputError は入力値エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewLocationNotFoundError はロケーション未検出エラーを生成する。
func NewLocationNotFoundError(locationID string) *APIError {
	return &APIError{
		Code:     ErrCodeLocationNotFound,
		Message:  fmt.Sprintf("指定されたロケーションが見つかりません: %s", locationID),
		Category: "location",
		Action:   "ロケーション一覧を再読み込みしてください。",
	}
}

// NewPlaceNotFoundError はジオコーディングで座標が見つからない場合のエラーを生成する。
func NewPlaceNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeLocationNotFound,
		Message:  fmt.Sprintf("「%s」の座標が見つかりませんでした。", name),
		Category: "location",
		Action:   "別の名前で検索してください。",
	}
}

// NewRemoteFailureError はストアや外部APIの失敗を表すエラーを生成する。
// messageにはユーザー向けの文言をそのまま渡す。
func NewRemoteFailureError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteFailure,
		Message:  message,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCapitalsUnavailableError は首都一覧の取得失敗エラーを生成する。
func NewCapitalsUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeCapitalsUnavailable,
		Message:  "国の一覧を読み込めませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidCountryCodeError は国コードが不正な場合のエラーを生成する。
func NewInvalidCountryCodeError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCountryCode,
		Message:  fmt.Sprintf("無効な国コードです: %s", code),
		Category: "validation",
		Action:   "ISO 3166-1 alpha-2 形式（例: JP）で指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
