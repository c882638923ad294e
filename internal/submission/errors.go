package submission

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind は未知の投稿種別を表す。
	ErrUnknownKind = errors.New("未知の投稿種別です")
	// ErrNotFound は投稿が存在しないことを表す。
	ErrNotFound = errors.New("投稿が見つかりません")
	// ErrInvalidStatus は種別で許可されていないステータスを表す。
	ErrInvalidStatus = errors.New("この種別では使用できないステータスです")
)

// ValidationError は入力値の検証エラー。
type ValidationError struct {
	// Field はエラーのある項目名。
	Field string
	// Message はエラーの内容。
	Message string
}

// Error はエラーメッセージを返す。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
