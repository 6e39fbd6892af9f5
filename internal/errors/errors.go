// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrSessionExpired    = errors.New("session expired")
	ErrMarketClosed      = errors.New("market is closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderRejected     = errors.New("order rejected")
	ErrPositionNotFound  = errors.New("position not found")
	ErrTradeNotFound     = errors.New("trade record not found")
	ErrDailyCallLimit    = errors.New("daily API call limit reached")
	ErrLockHeld          = errors.New("run lock held by another invocation")
)

// Kind classifies a failure for retry and escalation decisions.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindInvalidArgument is malformed input. Never retried.
	KindInvalidArgument
	// KindRemoteTransient is a timeout or 5xx. Retried with fixed backoff.
	KindRemoteTransient
	// KindRemoteTerminal is a 4xx or a broker application-level rejection.
	// Surfaced immediately, no retry.
	KindRemoteTerminal
	// KindAuthFailure disables the trading subsystem for the process lifetime.
	KindAuthFailure
	// KindRateLimit is the daily call ceiling. Fatal for the current invocation.
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindRemoteTransient:
		return "remote_transient"
	case KindRemoteTerminal:
		return "remote_terminal"
	case KindAuthFailure:
		return "auth_failure"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// BrokerError represents a classified failure from the broker API layer.
type BrokerError struct {
	Kind    Kind
	Op      string // the failing operation, e.g. "get_balance"
	Code    string // broker return_code or HTTP status, when known
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker %s [%s/%s]: %s: %v", e.Op, e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker %s [%s/%s]: %s", e.Op, e.Kind, e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(kind Kind, op, code, message string, err error) *BrokerError {
	return &BrokerError{Kind: kind, Op: op, Code: code, Message: message, Err: err}
}

// Retryable reports whether err should be retried by the transport layer.
func Retryable(err error) bool {
	return KindOf(err) == KindRemoteTransient
}

// KindOf extracts the Kind from an error chain, KindUnknown if absent.
func KindOf(err error) Kind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	var te *TradeError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// TradeError is a structured failure produced inside the order/strategy
// pipeline. It carries the failing step, cause hypotheses, and remediation
// guidance, and is forwarded verbatim to the notification channel.
type TradeError struct {
	Step       string
	Kind       Kind
	Message    string
	Causes     []string
	Resolution string
	Err        error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("step %q failed [%s]: %s", e.Step, e.Kind, e.Message)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

// Details renders the structured failure as key/value pairs for notification
// payloads.
func (e *TradeError) Details() map[string]string {
	d := map[string]string{
		"step":    e.Step,
		"kind":    e.Kind.String(),
		"message": e.Message,
	}
	if len(e.Causes) > 0 {
		d["possible_causes"] = strings.Join(e.Causes, "; ")
	}
	if e.Resolution != "" {
		d["resolution"] = e.Resolution
	}
	if e.Err != nil {
		d["error"] = e.Err.Error()
	}
	return d
}

// NewTradeError creates a new TradeError.
func NewTradeError(step string, kind Kind, message string, causes []string, resolution string, err error) *TradeError {
	return &TradeError{
		Step:       step,
		Kind:       kind,
		Message:    message,
		Causes:     causes,
		Resolution: resolution,
		Err:        err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
