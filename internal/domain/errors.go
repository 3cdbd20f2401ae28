package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound            = fmt.Errorf("not found")
	ErrForbidden           = fmt.Errorf("forbidden: insufficient permissions")
	ErrInvalidInput        = fmt.Errorf("invalid input")
	ErrUpstreamUnavailable = fmt.Errorf("upstream unavailable")
	ErrAuthInvalid         = fmt.Errorf("authentication failed")

	ErrAgencyNotFound  = fmt.Errorf("agency: %w", ErrNotFound)
	ErrAgentNotFound   = fmt.Errorf("agent: %w", ErrNotFound)
	ErrSkillNotFound   = fmt.Errorf("skill: %w", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("session: %w", ErrNotFound)

	ErrSkillUnsafe    = fmt.Errorf("skill rejected by safety evaluation: %w", ErrInvalidInput)
	ErrSkillTooLarge  = fmt.Errorf("skill source exceeds line limit: %w", ErrInvalidInput)
	ErrRenameAttempt  = fmt.Errorf("renaming agents is not supported yet: %w", ErrInvalidInput)
	ErrSandboxFailure = fmt.Errorf("sandbox: %w", ErrUpstreamUnavailable)
	ErrModelFailure   = fmt.Errorf("model call failed: %w", ErrUpstreamUnavailable)
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "AgencyManager.GetAgency")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// UnsetVariableError reports a user variable that resolved to no value.
// The message shape is part of the client surface (it is sent verbatim
// over the gateway), so keep it stable.
type UnsetVariableError struct {
	Key string
}

func (e *UnsetVariableError) Error() string {
	return fmt.Sprintf("variable %s is not set. Please set it first", e.Key)
}

func (e *UnsetVariableError) Unwrap() error { return ErrUpstreamUnavailable }

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeForbidden       ErrorCode = "FORBIDDEN"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeUpstream        ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeAuthInvalid     ErrorCode = "AUTH_INVALID"
	CodeAgencyNotFound  ErrorCode = "AGENCY_NOT_FOUND"
	CodeAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	CodeSkillNotFound   ErrorCode = "SKILL_NOT_FOUND"
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	CodeSkillUnsafe     ErrorCode = "SKILL_UNSAFE"
	CodeSkillTooLarge   ErrorCode = "SKILL_TOO_LARGE"
	CodeSandboxFailure  ErrorCode = "SANDBOX_FAILURE"
	CodeModelFailure    ErrorCode = "MODEL_FAILURE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Order matters for ErrorCodeOf: specific sentinels are matched before
// the categories they wrap.
var errorCodeList = []struct {
	sentinel error
	code     ErrorCode
}{
	{ErrAgencyNotFound, CodeAgencyNotFound},
	{ErrAgentNotFound, CodeAgentNotFound},
	{ErrSkillNotFound, CodeSkillNotFound},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrSkillUnsafe, CodeSkillUnsafe},
	{ErrSkillTooLarge, CodeSkillTooLarge},
	{ErrSandboxFailure, CodeSandboxFailure},
	{ErrModelFailure, CodeModelFailure},
	{ErrNotFound, CodeNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrUpstreamUnavailable, CodeUpstream},
	{ErrAuthInvalid, CodeAuthInvalid},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It walks the error chain with errors.Is, matching the most specific
// sentinel first. Returns CodeUnknown if no sentinel matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, entry := range errorCodeList {
		if errors.Is(err, entry.sentinel) {
			return entry.code
		}
	}
	return CodeUnknown
}
