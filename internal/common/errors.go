// Package common defines the error taxonomy shared by the storage, cache,
// queue and scheduler layers. Callers should use errors.Is (or KindOf) to
// branch on the kind instead of matching messages.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthConfig reports malformed or missing credential material. It is
	// raised while constructing clients and aborts initialization.
	ErrAuthConfig = errors.New("auth config error")

	// Remote store errors.
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrRateLimited      = errors.New("rate limited")
	ErrNetworkTimeout   = errors.New("network timeout")

	// ErrCacheUnavailable is never returned to callers of the cache; it is
	// used internally and in logs when the distributed tier is down.
	ErrCacheUnavailable = errors.New("cache unavailable")

	ErrInvalidInput = errors.New("invalid input")
	ErrQueueClosed  = errors.New("queue closed")
)

var kinds = []error{
	ErrAuthConfig,
	ErrNotFound,
	ErrPermissionDenied,
	ErrRateLimited,
	ErrNetworkTimeout,
	ErrCacheUnavailable,
	ErrInvalidInput,
	ErrQueueClosed,
}

// OpError ties an underlying failure to the operation that produced it and
// to one of the sentinel kinds above.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError builds an *OpError. A nil kind is not allowed.
func NewOpError(op string, kind error, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// KindOf returns the sentinel kind carried by err, or nil when err does not
// belong to the taxonomy.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
