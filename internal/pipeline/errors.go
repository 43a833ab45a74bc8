package pipeline

import (
	"errors"

	"github.com/starford/salesboard/internal/apperr"
)

// Operation names used for messages, metrics and spans.
const (
	OpAdd         = "add"
	OpEdit        = "edit"
	OpDelete      = "delete"
	OpChangeStage = "change_stage"
	OpAddMeeting  = "add_meeting"
)

var failureMessages = map[string]string{
	OpAdd:         "카드를 추가하는 중 오류가 발생했습니다.",
	OpEdit:        "카드를 수정하는 중 오류가 발생했습니다.",
	OpDelete:      "카드를 삭제하는 중 오류가 발생했습니다.",
	OpChangeStage: "단계를 변경하는 중 오류가 발생했습니다.",
	OpAddMeeting:  "미팅 히스토리를 추가하는 중 오류가 발생했습니다.",
}

const notFoundMessage = "해당 카드를 찾을 수 없습니다."

// ValidationError is returned when a record or meeting is rejected before
// any store call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Is makes validation failures match apperr.ErrInvalidInput.
func (e *ValidationError) Is(target error) bool { return target == apperr.ErrInvalidInput }

// UserError carries the localized message of a failed mutation. The same
// message is held in the manager's error slot until cleared.
type UserError struct {
	Op      string
	Message string
	Err     error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }

func userMessage(op string, err error) string {
	if errors.Is(err, apperr.ErrNotFound) {
		return notFoundMessage
	}
	if msg, ok := failureMessages[op]; ok {
		return msg
	}
	return "알 수 없는 오류가 발생했습니다."
}
