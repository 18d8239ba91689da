// ABOUTME: Sentinel errors shared by the ledger, builder, pipeline and retriever
// ABOUTME: Callers wrap them with %w and test with errors.Is
package models

import "errors"

var (
	// ErrConflict reports a uniqueness collision, usually a concurrent append
	ErrConflict = errors.New("conflict")
	// ErrNotFound reports a missing user, conversation or window
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument reports malformed input
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable reports a failing storage or embedding dependency
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrPermanentFailure reports a window whose embedding will not be retried
	ErrPermanentFailure = errors.New("permanent failure")
)
