// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, content, form, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // フィールド単位のエラー（バリデーション時のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeValidation     = "VALIDATION_FAILED"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodePostNotFound   = "POST_NOT_FOUND"
	ErrCodeInvalidCursor  = "INVALID_CURSOR"
	ErrCodeInvalidLogin   = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken     = "EMAIL_ALREADY_REGISTERED"
	ErrCodeUserNotFound   = "USER_NOT_FOUND"
	ErrCodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// 認証・認可の失敗を表すセンチネルエラー。
// トークン検証の詳細な原因はラップして保持する。
var (
	// ErrUnauthorized は認証情報が無い、または無効な場合のエラー（401）。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden は認証済みだがロールが不足している場合のエラー（403）。
	ErrForbidden = errors.New("forbidden")
	// ErrPostNotFound は投稿が存在しない場合のエラー。
	ErrPostNotFound = errors.New("post not found")
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合のエラー。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken は登録済みのメールアドレスで再登録しようとした場合のエラー。
	ErrEmailTaken = errors.New("email already registered")
)

// ValidationError はフィールド単位のバリデーションエラーをまとめて保持する。
// 最初のエラーで打ち切らず、全フィールドのエラーを収集して返す。
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError は空のValidationErrorを生成する。
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add はフィールドのエラーを追加する。同じフィールドへの2回目以降の追加は無視する。
func (e *ValidationError) Add(field, message string) {
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = message
}

// HasErrors はエラーが1件以上あるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil はエラーが無い場合にnilを返す。
// 戻り値をそのままerrorとして返すためのヘルパー。
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Error はerrorインターフェースを実装する。フィールド名順に連結する。
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewValidationAPIError はフィールド単位のバリデーションエラーを生成する。
func NewValidationAPIError(v *ValidationError) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目のエラーを確認して再送信してください。",
		Fields:   v.Fields,
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "content",
		Action:   "投稿IDを確認してください。",
	}
}

// NewInvalidCursorError は無効なページネーションカーソルのエラーを生成する。
func NewInvalidCursorError(cursor string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCursor,
		Message:  fmt.Sprintf("無効なカーソルです: %s", cursor),
		Category: "validation",
		Action:   "前回のレスポンスのnext_cursorをそのまま指定してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLogin,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
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

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterで指定された時間が経過してから再度お試しください。",
	}
}
