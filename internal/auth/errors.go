package auth

import (
	"errors"

	"github.com/starford/salesboard/internal/apperr"
)

// Provider error codes.
const (
	CodeUserNotFound      = "auth/user-not-found"
	CodeWrongPassword     = "auth/wrong-password"
	CodeEmailAlreadyInUse = "auth/email-already-in-use"
	CodeWeakPassword      = "auth/weak-password"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeTooManyRequests   = "auth/too-many-requests"
	CodeNetworkFailed     = "auth/network-request-failed"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeInvalidToken      = "auth/invalid-token"
	CodeProviderInternal  = "auth/internal-error"
)

const (
	defaultMessage        = "알 수 없는 오류가 발생했습니다."
	invalidSessionMessage = "로그인이 필요합니다."
	missingFieldsMessage  = "이메일과 비밀번호를 입력해주세요."
	invalidEmailMessage   = "유효한 이메일 주소를 입력해주세요."
	shortPasswordMessage  = "비밀번호는 최소 6자 이상이어야 합니다."
	passwordMixMessage    = "비밀번호는 영문과 숫자를 포함해야 합니다."
	missingNameMessage    = "이름을 입력해주세요."
)

var messages = map[string]string{
	CodeUserNotFound:      "등록되지 않은 이메일입니다.",
	CodeWrongPassword:     "비밀번호가 올바르지 않습니다.",
	CodeEmailAlreadyInUse: "이미 사용 중인 이메일입니다.",
	CodeWeakPassword:      "비밀번호가 너무 약합니다.",
	CodeInvalidEmail:      "유효하지 않은 이메일 형식입니다.",
	CodeTooManyRequests:   "너무 많은 시도가 있었습니다. 잠시 후 다시 시도해주세요.",
	CodeNetworkFailed:     "네트워크 연결을 확인해주세요.",
	CodeInvalidCredential: "인증 정보가 올바르지 않습니다.",
	CodeInvalidToken:      invalidSessionMessage,
}

// Message returns the user-facing message for a provider error code.
func Message(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return defaultMessage
}

// Error is a provider failure carrying a code. Its message is the localized
// text for the code.
type Error struct {
	Code string
	Err  error
}

func newError(code string, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string { return Message(e.Code) }
func (e *Error) Unwrap() error { return e.Err }

// Is maps codes onto the shared sentinels so the HTTP layer can pick a status.
func (e *Error) Is(target error) bool {
	switch target {
	case apperr.ErrUnauthorized:
		return e.Code == CodeUserNotFound || e.Code == CodeWrongPassword ||
			e.Code == CodeInvalidCredential || e.Code == CodeInvalidToken
	case apperr.ErrAlreadyExists:
		return e.Code == CodeEmailAlreadyInUse
	case apperr.ErrInvalidInput:
		return e.Code == CodeWeakPassword || e.Code == CodeInvalidEmail
	case apperr.ErrUnavailable:
		return e.Code == CodeNetworkFailed
	}
	return false
}

// CodeOf returns the provider code of err, or "" when err carries none.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// InputError is a local validation failure detected before the provider is called.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool { return target == apperr.ErrInvalidInput }
