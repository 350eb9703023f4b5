package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidSpec         = fmt.Errorf("invalid provider spec")
	ErrConnectTimeout      = fmt.Errorf("provider connect timed out")
	ErrHandshakeTimeout    = fmt.Errorf("provider handshake timed out")
	ErrCatalogTimeout      = fmt.Errorf("tool catalog listing timed out")
	ErrProviderUnavailable = fmt.Errorf("provider unavailable")
	ErrToolNotFound        = fmt.Errorf("tool not found")
	ErrInvocationFailed    = fmt.Errorf("tool invocation failed")
	ErrInvalidArguments    = fmt.Errorf("tool arguments invalid")
	ErrConnClosed          = fmt.Errorf("connection closed")

	// Peer agent errors.
	ErrPeerUnknown    = fmt.Errorf("peer agent unknown")
	ErrPeerCallFailed = fmt.Errorf("peer call failed")
	ErrPeerTaskFailed = fmt.Errorf("peer reported task failure")

	// Task processing errors.
	ErrTaskHandlerFailed = fmt.Errorf("task handler failed")
	ErrNoHandler         = fmt.Errorf("no handler registered")

	ErrConfigLoad = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Conn.Invoke")
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

// IsRetryableError reports whether err is transient from the caller's point of
// view: the connection stayed Ready and the same call may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrInvocationFailed) || errors.Is(err, ErrPeerCallFailed)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeInvalidSpec         ErrorCode = "INVALID_SPEC"
	CodeConnectTimeout      ErrorCode = "CONNECT_TIMEOUT"
	CodeHandshakeTimeout    ErrorCode = "HANDSHAKE_TIMEOUT"
	CodeCatalogTimeout      ErrorCode = "CATALOG_TIMEOUT"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeToolNotFound        ErrorCode = "TOOL_NOT_FOUND"
	CodeInvocationFailed    ErrorCode = "INVOCATION_FAILED"
	CodeInvalidArguments    ErrorCode = "INVALID_ARGUMENTS"
	CodeConnClosed          ErrorCode = "CONN_CLOSED"
	CodePeerUnknown         ErrorCode = "PEER_UNKNOWN"
	CodePeerCallFailed      ErrorCode = "PEER_CALL_FAILED"
	CodePeerTaskFailed      ErrorCode = "PEER_TASK_FAILED"
	CodeTaskHandlerFailed   ErrorCode = "TASK_HANDLER_FAILED"
	CodeNoHandler           ErrorCode = "NO_HANDLER"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidSpec:         CodeInvalidSpec,
	ErrConnectTimeout:      CodeConnectTimeout,
	ErrHandshakeTimeout:    CodeHandshakeTimeout,
	ErrCatalogTimeout:      CodeCatalogTimeout,
	ErrProviderUnavailable: CodeProviderUnavailable,
	ErrToolNotFound:        CodeToolNotFound,
	ErrInvocationFailed:    CodeInvocationFailed,
	ErrInvalidArguments:    CodeInvalidArguments,
	ErrConnClosed:          CodeConnClosed,
	ErrPeerUnknown:         CodePeerUnknown,
	ErrPeerCallFailed:      CodePeerCallFailed,
	ErrPeerTaskFailed:      CodePeerTaskFailed,
	ErrTaskHandlerFailed:   CodeTaskHandlerFailed,
	ErrNoHandler:           CodeNoHandler,
	ErrConfigLoad:          CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
