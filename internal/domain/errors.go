package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicate              = errors.New("duplicate")
	ErrBelowMinimumWithdrawal = errors.New("amount is below the minimum withdrawal")
	ErrInvalidAmount          = errors.New("invalid amount")
)

// ConfigurationError means a CommissionConfig failed validation. It is fatal to
// activation and to any money-moving computation against that config.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid commission config: " + strings.Join(e.Problems, "; ")
}

// InvalidStateError means an operation was invoked against a booking or payment
// in the wrong state. It is surfaced to the caller and never retried.
type InvalidStateError struct {
	Op     string
	Entity string
	ID     string
	State  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s %s is in state %s", e.Op, e.Entity, e.ID, e.State)
}

// ExternalGatewayError wraps a failed or timed-out gateway call.
type ExternalGatewayError struct {
	Op  string
	Err error
}

func (e *ExternalGatewayError) Error() string { return "gateway " + e.Op + ": " + e.Err.Error() }
func (e *ExternalGatewayError) Unwrap() error { return e.Err }

// TransientJobError is one failed item of a scheduler batch; the next tick retries it.
type TransientJobError struct {
	Job    string
	ItemID string
	Err    error
}

func (e *TransientJobError) Error() string {
	return fmt.Sprintf("%s: item %s: %v", e.Job, e.ItemID, e.Err)
}
func (e *TransientJobError) Unwrap() error { return e.Err }

func IsInvalidState(err error) bool {
	var ise *InvalidStateError
	return errors.As(err, &ise)
}

func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
