package quest

import (
	"errors"
	"fmt"
)

// Auth scopes distinguish which credential was rejected.
const (
	AuthScopeUpstream  = "upstream"
	AuthScopeIngest    = "ingest"
	AuthScopeCollector = "collector"
)

// AuthError reports a rejected credential. An upstream AuthError stops the
// process; an ingest AuthError only rejects the request.
type AuthError struct {
	Scope      string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s auth failed (status %d): %v", e.Scope, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s auth failed: %v", e.Scope, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a failed quest fetch. Transient errors wait for the
// next scheduled tick.
type UpstreamError struct {
	Region     string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s error for %s (status %d): %v", kind, e.Region, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s error for %s: %v", kind, e.Region, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// DeliveryError reports one failed (quest, sink) delivery.
type DeliveryError struct {
	Sink       string
	QuestID    string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver quest %s to %s (status %d): %v", e.QuestID, e.Sink, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("deliver quest %s to %s: %v", e.QuestID, e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StorageError reports a seen-set persistence failure. The process cannot make
// safe accept/reject decisions without the store, so it is always fatal.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MalformedRequestError reports an ingest body that failed validation.
type MalformedRequestError struct {
	Reason string
}

func (e *MalformedRequestError) Error() string {
	return "malformed request: " + e.Reason
}

// IsFatal reports whether err must stop the process: a rejected upstream
// credential or any storage failure.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return true
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Scope == AuthScopeUpstream
	}
	return false
}

// IsTransient reports whether err is an upstream failure worth retrying on the next tick.
func IsTransient(err error) bool {
	var upstreamErr *UpstreamError
	return errors.As(err, &upstreamErr) && upstreamErr.Transient
}
