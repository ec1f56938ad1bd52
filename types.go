package flocksync

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/hillfarm/flocksync/internal/audit"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
)

// Identity is the authenticated principal. It is exclusively owned by the
// session manager: created on sign-in/up, mutated on refresh, and cleared
// only by an explicit sign-out.
type Identity struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Verified    bool      `json:"verified"`
	LastLogin   time.Time `json:"last_login"`
}

// Clone returns a copy so callers can never mutate the manager's identity
// in place.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// Session is the transient runtime association between the application and
// an Identity. It is recomputed from identity and provider state, never
// independently persisted.
type Session struct {
	Identity    *Identity
	ExpiryHint  time.Time
	LastRefresh time.Time
}

// AuthState is the session manager's externally visible state.
type AuthState uint8

const (
	// StateUnauthenticated means no identity is active.
	StateUnauthenticated AuthState = iota
	// StateAuthenticated means an identity is active.
	StateAuthenticated
	// StateReauthenticating means a refresh is in flight; the identity
	// remains active throughout.
	StateReauthenticating
)

func (s AuthState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateReauthenticating:
		return "reauthenticating"
	default:
		return "unauthenticated"
	}
}

// AuthResult is the discriminated success shape returned by session
// manager operations. Failures are the error return, drawn from the closed
// taxonomy in errors.go.
type AuthResult struct {
	Identity             *Identity
	RequiresVerification bool
}

// ProviderSession is what the identity provider hands back on a successful
// authentication event. IDToken is optional; when present its expiry claim
// feeds the session's expiry hint.
type ProviderSession struct {
	Identity  Identity
	IDToken   string
	ExpiresAt time.Time
}

// IdentityProvider is the sole network authority for identity. It is not
// the sole source of truth for "logged in": that combines provider and
// persisted state, owned by the session manager.
//
// Implementations translate their SDK failures into the flocksync error
// taxonomy where possible; anything else is classified at the call site.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*ProviderSession, error)
	SignUp(ctx context.Context, email, password string) (*ProviderSession, error)
	FederatedSignIn(ctx context.Context, providerID, token string) (*ProviderSession, error)
	SignOut(ctx context.Context) error
	Refresh(ctx context.Context) (*ProviderSession, error)
	// CurrentSession returns the provider's locally cached live session
	// without any network call, or nil when none exists.
	CurrentSession(ctx context.Context) (*ProviderSession, error)
	SendVerification(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
}

// ConnectivityOracle reports network reachability. Changes carries an edge
// per transition (true = online); the session manager is its consumer.
type ConnectivityOracle interface {
	Online() bool
	Changes() <-chan bool
}

// Record is the contract a typed document must satisfy so the client can
// stamp ownership, timestamps, and the soft-delete flag. Embed [Meta] and
// implement Collection to satisfy it.
type Record interface {
	RecordID() string
	SetRecordID(id string)
	RecordOwner() string
	SetRecordOwner(ownerID string)
	RecordCreatedAt() time.Time
	SetRecordCreatedAt(t time.Time)
	RecordUpdatedAt() time.Time
	SetRecordUpdatedAt(t time.Time)
	RecordDeleted() bool
	SetRecordDeleted(deleted bool)
	Collection() string
}

// Meta is the embeddable document metadata block implementing everything
// in [Record] except Collection.
type Meta struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted"`
}

func (m *Meta) RecordID() string               { return m.ID }
func (m *Meta) SetRecordID(id string)          { m.ID = id }
func (m *Meta) RecordOwner() string            { return m.OwnerID }
func (m *Meta) SetRecordOwner(ownerID string)  { m.OwnerID = ownerID }
func (m *Meta) RecordCreatedAt() time.Time     { return m.CreatedAt }
func (m *Meta) SetRecordCreatedAt(t time.Time) { m.CreatedAt = t }
func (m *Meta) RecordUpdatedAt() time.Time     { return m.UpdatedAt }
func (m *Meta) SetRecordUpdatedAt(t time.Time) { m.UpdatedAt = t }
func (m *Meta) RecordDeleted() bool            { return m.Deleted }
func (m *Meta) SetRecordDeleted(deleted bool)  { m.Deleted = deleted }

// EventKind discriminates listener deliveries.
type EventKind uint8

const (
	// EventAdded signals a document seen for the first time.
	EventAdded EventKind = iota
	// EventModified signals an update to a known document.
	EventModified
	// EventRemoved signals a soft deletion.
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit
// dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricSignInSuccess      = internalmetrics.MetricSignInSuccess
	MetricSignInFailure      = internalmetrics.MetricSignInFailure
	MetricSignInOffline      = internalmetrics.MetricSignInOffline
	MetricSignUpSuccess      = internalmetrics.MetricSignUpSuccess
	MetricSignUpFailure      = internalmetrics.MetricSignUpFailure
	MetricSignOut            = internalmetrics.MetricSignOut
	MetricRefreshSuccess     = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure     = internalmetrics.MetricRefreshFailure
	MetricRefreshSkipped     = internalmetrics.MetricRefreshSkipped
	MetricIdentityRestored   = internalmetrics.MetricIdentityRestored
	MetricStorageTierFault   = internalmetrics.MetricStorageTierFault
	MetricCacheHit           = internalmetrics.MetricCacheHit
	MetricCacheMiss          = internalmetrics.MetricCacheMiss
	MetricCacheEviction      = internalmetrics.MetricCacheEviction
	MetricRetryAttempt       = internalmetrics.MetricRetryAttempt
	MetricDocRead            = internalmetrics.MetricDocRead
	MetricDocWrite           = internalmetrics.MetricDocWrite
	MetricDocWriteFailure    = internalmetrics.MetricDocWriteFailure
	MetricBatchChunkSuccess  = internalmetrics.MetricBatchChunkSuccess
	MetricBatchChunkFailure  = internalmetrics.MetricBatchChunkFailure
	MetricCrossOwnerDenied   = internalmetrics.MetricCrossOwnerDenied
	MetricListenerRegistered = internalmetrics.MetricListenerRegistered
	MetricListenerReplaced   = internalmetrics.MetricListenerReplaced
	MetricListenerEvicted    = internalmetrics.MetricListenerEvicted
)

// Metrics holds atomic counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot
