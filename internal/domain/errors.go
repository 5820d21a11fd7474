package domain

import (
	"errors"
	"fmt"
)

// ValidationError marks malformed signal or order input. It is never retried
// and aborts before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError marks an already-processed signal or order. It is not a
// failure: callers convert it into a SKIPPED_DUP outcome with no side
// effects.
type DuplicateError struct {
	Entity string
	Key    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s %q", e.Entity, e.Key)
}

// TransientBrokerError marks a broker failure (timeout, connectivity, 5xx)
// that the retry policy may re-attempt.
type TransientBrokerError struct {
	Op  string
	Err error
}

func (e *TransientBrokerError) Error() string {
	return fmt.Sprintf("broker %s: transient: %v", e.Op, e.Err)
}

func (e *TransientBrokerError) Unwrap() error { return e.Err }

// TerminalBrokerError marks an explicit broker rejection or cancellation.
// No retry; the order moves straight to REJECTED.
type TerminalBrokerError struct {
	Op     string
	Reason string
}

func (e *TerminalBrokerError) Error() string {
	return fmt.Sprintf("broker %s: rejected: %s", e.Op, e.Reason)
}

// IllegalTransitionError marks an attempted state change that is not in the
// entity's transition table. Always a programming-level fault: it is logged
// and the offending operation becomes a no-op.
type IllegalTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s (id=%s)", e.Entity, e.From, e.To, e.ID)
}

// IsTransient reports whether err is (or wraps) a TransientBrokerError.
func IsTransient(err error) bool {
	var te *TransientBrokerError
	return errors.As(err, &te)
}

// IsTerminal reports whether err is (or wraps) a TerminalBrokerError.
func IsTerminal(err error) bool {
	var te *TerminalBrokerError
	return errors.As(err, &te)
}

// IsDuplicate reports whether err is (or wraps) a DuplicateError.
func IsDuplicate(err error) bool {
	var de *DuplicateError
	return errors.As(err, &de)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsIllegalTransition reports whether err is (or wraps) an
// IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var ie *IllegalTransitionError
	return errors.As(err, &ie)
}
