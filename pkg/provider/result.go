package provider

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
)

// Outcome classifies a single provider attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMissing   Outcome = "missing"
	OutcomeStale     Outcome = "stale"
	OutcomeCancelled Outcome = "cancelled"
)

// Classify maps an adapter error to an attempt outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case stderrors.Is(err, context.Canceled):
		return OutcomeCancelled
	case errors.IsNotFound(err):
		return OutcomeMissing
	case errors.IsPermanent(err):
		return OutcomeRejected
	case errors.IsTimeout(err):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}

// Transient reports whether trying another provider may succeed.
func (o Outcome) Transient() bool {
	return o == OutcomeFailed || o == OutcomeTimeout
}

// Attempt records one contact with one provider.
type Attempt struct {
	Provider string        `json:"provider"`
	Outcome  Outcome       `json:"outcome"`
	Code     string        `json:"code,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
	// Late marks a replica response that arrived after the decision.
	Late bool `json:"late,omitempty"`
}

// ConflictInfo points at the conflict record created by a verified read.
type ConflictInfo struct {
	Code string `json:"code"` // always CONFLICT_DETECTED
	ID   string `json:"id"`
	Rule string `json:"rule"`
}

// OperationError is returned for every surfaced failure. It carries the full
// attempt trail so callers can tell an outage from a single rejection.
type OperationError struct {
	*errors.BaseError
	Attempts []Attempt
}

// NewOperationError creates an error with the given taxonomy code.
func NewOperationError(code, message string, attempts []Attempt, cause error) *OperationError {
	return &OperationError{
		BaseError: errors.NewCoded(code, message, cause),
		Attempts:  append([]Attempt(nil), attempts...),
	}
}

// Result is the immutable envelope returned by the manager. Use Success or
// Failure to build one; accessors return copies.
type Result struct {
	value         *Value
	err           *OperationError
	attempts      []Attempt
	authoritative string
	conflict      *ConflictInfo
}

// Success builds a successful result.
func Success(value *Value, authoritative string, attempts []Attempt) Result {
	r := Result{
		authoritative: authoritative,
		attempts:      append([]Attempt(nil), attempts...),
	}
	if value != nil {
		v := *value
		v.Data = append([]byte(nil), value.Data...)
		r.value = &v
	}
	return r
}

// Failure builds a failed result from an operation error.
func Failure(err *OperationError) Result {
	return Result{
		err:      err,
		attempts: append([]Attempt(nil), err.Attempts...),
	}
}

// WithConflict returns a copy of r flagged with a conflict.
func (r Result) WithConflict(c ConflictInfo) Result {
	c.Code = errors.CodeConflictDetected
	out := r
	out.conflict = &c
	return out
}

// Value returns the result value, if any.
func (r Result) Value() (Value, bool) {
	if r.value == nil {
		return Value{}, false
	}
	v := *r.value
	v.Data = append([]byte(nil), r.value.Data...)
	return v, true
}

// IsError reports whether the operation failed.
func (r Result) IsError() bool { return r.err != nil }

// Err returns the failure, or nil on success.
func (r Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// ErrorKind returns the taxonomy code of the failure, or OK.
func (r Result) ErrorKind() string {
	if r.err == nil {
		return errors.CodeOK
	}
	return r.err.Code()
}

// Message returns the failure message, or empty on success.
func (r Result) Message() string {
	if r.err == nil {
		return ""
	}
	return r.err.Message()
}

// Attempts returns the ordered attempt trail.
func (r Result) Attempts() []Attempt {
	return append([]Attempt(nil), r.attempts...)
}

// AuthoritativeProvider names the provider whose value or ack won.
func (r Result) AuthoritativeProvider() string { return r.authoritative }

// Conflict returns the conflict flag raised by a verified read.
func (r Result) Conflict() (ConflictInfo, bool) {
	if r.conflict == nil {
		return ConflictInfo{}, false
	}
	return *r.conflict, true
}

type resultJSON struct {
	Value         *Value        `json:"value,omitempty"`
	IsError       bool          `json:"is_error"`
	ErrorKind     string        `json:"error_kind"`
	Message       string        `json:"message,omitempty"`
	Attempts      []Attempt     `json:"attempts"`
	Authoritative string        `json:"authoritative_provider,omitempty"`
	Conflict      *ConflictInfo `json:"conflict,omitempty"`
}

// MarshalJSON renders the envelope for the HTTP gateway.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Value:         r.value,
		IsError:       r.IsError(),
		ErrorKind:     r.ErrorKind(),
		Message:       r.Message(),
		Attempts:      r.attempts,
		Authoritative: r.authoritative,
		Conflict:      r.conflict,
	})
}
