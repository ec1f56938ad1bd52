package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Doc is the wire-level document shape exchanged with a backend. Data holds
// the caller's typed payload as raw JSON; the remaining fields are metadata
// stamped and enforced by the flocksync client.
type Doc struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Clone returns a deep copy of the document. Backends and caches hand out
// clones so callers can never mutate shared state in place.
func (d *Doc) Clone() *Doc {
	if d == nil {
		return nil
	}
	c := *d
	if d.Data != nil {
		c.Data = make(json.RawMessage, len(d.Data))
		copy(c.Data, d.Data)
	}
	return &c
}

// ChangeKind discriminates change notifications.
type ChangeKind uint8

const (
	// ChangeAdded signals a document seen for the first time.
	ChangeAdded ChangeKind = iota
	// ChangeModified signals an update to a known document.
	ChangeModified
	// ChangeRemoved signals a soft deletion.
	ChangeRemoved
)

// Change is a single change notification delivered to a listener.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Collection string     `json:"collection"`
	Doc        *Doc       `json:"doc"`
}

// CancelFunc releases a live listener. Safe to call more than once.
type CancelFunc func()

// Interface is the operation set flocksync requires from a remote document
// store. Backends are assumed to provide their own offline durability;
// flocksync layers request-level retry and resource bounding on top.
type Interface interface {
	// Get returns the document at (collection, id), including soft-deleted
	// documents. A missing document is reported as CodeNotFound.
	Get(ctx context.Context, collection, id string) (*Doc, error)

	// Set creates or replaces the document at (collection, doc.ID).
	Set(ctx context.Context, collection string, doc *Doc) error

	// SetBatch writes up to the backend's batch limit of documents
	// atomically: either every document in the slice commits or none do.
	SetBatch(ctx context.Context, collection string, docs []*Doc) error

	// GetAll returns the owner's non-deleted documents in the collection,
	// most recently updated first, capped at limit.
	GetAll(ctx context.Context, collection, ownerID string, limit int) ([]*Doc, error)

	// ListenDoc delivers changes for a single document until cancelled.
	ListenDoc(ctx context.Context, collection, id string, fn func(Change)) (CancelFunc, error)

	// ListenAll delivers changes for every document in the collection
	// owned by ownerID until cancelled.
	ListenAll(ctx context.Context, collection, ownerID string, fn func(Change)) (CancelFunc, error)
}

// Code classifies backend failures. The retry policy treats CodeUnavailable,
// CodeDeadlineExceeded, CodeInternal, and CodeResourceExhausted as
// transient; everything else fails immediately.
type Code uint8

const (
	// CodeUnknown is an unclassified backend failure.
	CodeUnknown Code = iota
	// CodeUnavailable signals the backend is unreachable.
	CodeUnavailable
	// CodeDeadlineExceeded signals a timed-out request.
	CodeDeadlineExceeded
	// CodeInternal signals a backend-internal fault.
	CodeInternal
	// CodeResourceExhausted signals backend throttling.
	CodeResourceExhausted
	// CodeNotFound signals a missing document.
	CodeNotFound
	// CodePermissionDenied signals the backend rejected the caller.
	CodePermissionDenied
)

func (c Code) String() string {
	switch c {
	case CodeUnavailable:
		return "unavailable"
	case CodeDeadlineExceeded:
		return "deadline_exceeded"
	case CodeInternal:
		return "internal"
	case CodeResourceExhausted:
		return "resource_exhausted"
	case CodeNotFound:
		return "not_found"
	case CodePermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Error is the classified failure shape produced by backends.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a classification code and operation name.
func NewError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the classification code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeDeadlineExceeded
	}
	return CodeUnknown
}

// IsTransient reports whether err carries a retry-eligible signature.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeDeadlineExceeded, CodeInternal, CodeResourceExhausted:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether err signals a missing document.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}
