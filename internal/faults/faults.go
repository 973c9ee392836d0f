package faults

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an unknown incident or schedule id.
var ErrNotFound = errors.New("not found")

// TransientError marks chain/transport failures that callers may retry.
// Params: wrapped root cause.
// Returns: typed transient error marker.
type TransientError struct {
	Err error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e TransientError) Error() string {
	if e.Err == nil {
		return "transient chain error"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e TransientError) Unwrap() error {
	return e.Err
}

// Transient marks error as retryable.
// Params: none.
// Returns: true.
func (TransientError) Transient() bool {
	return true
}

// MarkTransient wraps error with transient marker.
// Params: source error.
// Returns: wrapped error or nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return TransientError{Err: err}
}

// IsTransient reports whether error carries the transient marker.
// Params: candidate error.
// Returns: true when a retryable marker is present.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Transient() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Transient()
}

// ConfigError marks invalid or missing required settings, fatal at startup.
// Params: offending section/key and reason.
// Returns: typed startup validation error.
type ConfigError struct {
	Key    string
	Reason string
}

// Error renders key and reason.
// Params: none.
// Returns: string representation.
func (e ConfigError) Error() string {
	if e.Key == "" {
		return e.Reason
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// IsConfig reports whether error is a startup configuration error.
// Params: candidate error.
// Returns: true for ConfigError values.
func IsConfig(err error) bool {
	var target ConfigError
	return errors.As(err, &target)
}
