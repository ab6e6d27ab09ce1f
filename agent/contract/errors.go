package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrInvalidArguments  = errors.New("invalid tool arguments")
	ErrToolNotAllowed    = errors.New("tool not allowed for persona")
	ErrNotFound          = errors.New("record not found")
	ErrExternalTimeout   = errors.New("external call timed out")
	ErrPersistence       = errors.New("persistence failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionEnded      = errors.New("session has ended")
)

// ErrorCode is the machine-readable failure class carried by a ToolResult.
type ErrorCode string

const (
	CodeInvalidArguments ErrorCode = "invalid_arguments"
	CodeToolNotAllowed   ErrorCode = "tool_not_allowed"
	CodeNotFound         ErrorCode = "not_found"
	CodeTimeout          ErrorCode = "timeout"
	CodeRejected         ErrorCode = "rejected"
	CodeInternal         ErrorCode = "internal"
)

// CodeFor maps an error onto the ToolResult code space.
func CodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArguments), errors.Is(err, ErrValidation):
		return CodeInvalidArguments
	case errors.Is(err, ErrToolNotAllowed):
		return CodeToolNotAllowed
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrExternalTimeout):
		return CodeTimeout
	case errors.Is(err, ErrInvalidTransition):
		return CodeRejected
	default:
		return CodeInternal
	}
}
