package flocksync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	internalaudit "github.com/hillfarm/flocksync/internal/audit"
	"github.com/hillfarm/flocksync/internal/doccache"
	"github.com/hillfarm/flocksync/internal/listeners"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
	"github.com/hillfarm/flocksync/internal/retry"
	"github.com/hillfarm/flocksync/store"
)

// Client mediates all document reads and writes: cache first, then a
// bounded, retried store operation, with every document tagged with and
// checked against the active identity.
//
// Client carries no per-call state and is safe for concurrent use. The
// typed operations are package-level generic functions ([Get], [Save],
// etc.) taking a *Client.
type Client struct {
	store    store.Interface
	cache    *doccache.Cache
	registry *listeners.Registry
	retryPol *retry.Policy
	session  *SessionManager
	oracle   ConnectivityOracle
	audit    *internalaudit.Dispatcher
	metrics  *internalmetrics.Metrics
	log      *zap.Logger

	pageLimit   int
	chunkSize   int
	maxParallel int
}

// timeNow is swapped out in tests.
var timeNow = time.Now

// recordPtr constrains PT to a pointer to T that satisfies [Record].
type recordPtr[T any] interface {
	Record
	*T
}

// ownerID returns the active identity id, or "" when unauthenticated.
func (c *Client) ownerID() string {
	identity := c.session.CurrentIdentity()
	if identity == nil {
		return ""
	}
	return identity.ID
}

// do runs a store operation under the retry policy. While offline the
// operation gets a single attempt: the store's own offline layer may still
// serve it, and retrying cannot help while disconnected.
func (c *Client) do(ctx context.Context, op func() error) error {
	if c.oracle != nil && !c.oracle.Online() {
		return c.retryPol.DoOnce(ctx, op)
	}
	return c.retryPol.Do(ctx, op)
}

func (c *Client) denyCrossOwner(ctx context.Context, collection, id string) {
	c.metrics.Inc(internalmetrics.MetricCrossOwnerDenied)
	c.audit.Emit(ctx, internalaudit.Event{
		Timestamp:  timeNow(),
		EventType:  internalaudit.EventCrossOwnerDenied,
		Collection: collection,
		DocID:      id,
		Success:    false,
	})
}

func encodeRecord[T any, PT recordPtr[T]](rec PT) (*store.Doc, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Collection(), err)
	}
	return &store.Doc{
		ID:        rec.RecordID(),
		OwnerID:   rec.RecordOwner(),
		CreatedAt: rec.RecordCreatedAt(),
		UpdatedAt: rec.RecordUpdatedAt(),
		Deleted:   rec.RecordDeleted(),
		Data:      data,
	}, nil
}

func decodeRecord[T any, PT recordPtr[T]](doc *store.Doc) (PT, error) {
	rec := PT(new(T))
	if len(doc.Data) > 0 {
		if err := json.Unmarshal(doc.Data, rec); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", rec.Collection(), doc.ID, err)
		}
	}
	// The envelope metadata is authoritative over whatever the payload
	// carried.
	rec.SetRecordID(doc.ID)
	rec.SetRecordOwner(doc.OwnerID)
	rec.SetRecordCreatedAt(doc.CreatedAt)
	rec.SetRecordUpdatedAt(doc.UpdatedAt)
	rec.SetRecordDeleted(doc.Deleted)
	return rec, nil
}

func collectionOf[T any, PT recordPtr[T]]() string {
	return PT(new(T)).Collection()
}

// Get returns the owner's document with the given id. The cache is
// consulted first; a miss costs a bounded, retried store read. A document
// owned by a different identity is reported as [ErrNotFound], as is a soft
// deleted one.
func Get[T any, PT recordPtr[T]](ctx context.Context, c *Client, id string) (PT, error) {
	owner := c.ownerID()
	if owner == "" {
		return nil, ErrNotAuthenticated
	}
	collection := collectionOf[T, PT]()
	key := doccache.Key{Collection: collection, ID: id}

	if doc, ok := c.cache.Get(key); ok {
		c.metrics.Inc(internalmetrics.MetricCacheHit)
		return vetDoc[T, PT](ctx, c, doc, owner)
	}
	c.metrics.Inc(internalmetrics.MetricCacheMiss)

	var doc *store.Doc
	err := c.do(ctx, func() error {
		got, err := c.store.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		doc = got
		return nil
	})
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrNotFound
		}
		c.log.Debug("document read failed", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		return nil, classifyStore(err)
	}

	rec, vetErr := vetDoc[T, PT](ctx, c, doc, owner)
	if vetErr != nil {
		return nil, vetErr
	}
	c.cache.Put(key, doc)
	c.metrics.Inc(internalmetrics.MetricDocRead)
	return rec, nil
}

// vetDoc enforces the ownership and soft-delete invariants on a document
// before it is handed to the caller.
func vetDoc[T any, PT recordPtr[T]](ctx context.Context, c *Client, doc *store.Doc, owner string) (PT, error) {
	if doc == nil {
		return nil, ErrNotFound
	}
	if doc.OwnerID != owner {
		c.denyCrossOwner(ctx, collectionOf[T, PT](), doc.ID)
		return nil, ErrNotFound
	}
	if doc.Deleted {
		return nil, ErrNotFound
	}
	return decodeRecord[T, PT](doc)
}

// GetAll returns the owner's non-deleted documents, most recently updated
// first, capped at the configured page limit. Read failures degrade
// silently to an empty slice so callers render "no data" instead of
// failing.
func GetAll[T any, PT recordPtr[T]](ctx context.Context, c *Client) []PT {
	owner := c.ownerID()
	if owner == "" {
		return nil
	}
	collection := collectionOf[T, PT]()

	var docs []*store.Doc
	err := c.do(ctx, func() error {
		got, err := c.store.GetAll(ctx, collection, owner, c.pageLimit)
		if err != nil {
			return err
		}
		docs = got
		return nil
	})
	if err != nil {
		c.log.Warn("collection read failed", zap.String("collection", collection), zap.Error(err))
		return nil
	}

	out := make([]PT, 0, len(docs))
	for _, doc := range docs {
		if doc == nil || doc.OwnerID != owner || doc.Deleted {
			continue
		}
		rec, err := decodeRecord[T, PT](doc)
		if err != nil {
			c.log.Warn("corrupt document skipped", zap.String("collection", collection), zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		c.cache.Put(doccache.Key{Collection: collection, ID: doc.ID}, doc)
		out = append(out, rec)
	}
	c.metrics.Add(internalmetrics.MetricDocRead, uint64(len(out)))
	return out
}

// Query fetches the owner's documents and evaluates the predicate in
// memory; the remote store's native filter language is not assumed
// expressive enough for arbitrary predicates, and per-owner datasets are
// bounded by the page limit.
func Query[T any, PT recordPtr[T]](ctx context.Context, c *Client, predicate func(PT) bool) []PT {
	all := GetAll[T, PT](ctx, c)
	out := make([]PT, 0, len(all))
	for _, rec := range all {
		if predicate(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Save writes the record, assigning an id when absent and stamping the
// owner and update timestamp. It reports success as a boolean and never
// fails loudly; details land in the log and audit trail.
func Save[T any, PT recordPtr[T]](ctx context.Context, c *Client, rec PT) bool {
	owner := c.ownerID()
	if owner == "" {
		c.log.Warn("save rejected: not authenticated", zap.String("collection", rec.Collection()))
		return false
	}

	stampForWrite(rec, owner)

	doc, err := encodeRecord[T, PT](rec)
	if err != nil {
		c.log.Warn("save rejected: encode failed", zap.Error(err))
		return false
	}

	collection := rec.Collection()
	if err := c.do(ctx, func() error { return c.store.Set(ctx, collection, doc) }); err != nil {
		c.metrics.Inc(internalmetrics.MetricDocWriteFailure)
		c.audit.Emit(ctx, internalaudit.Event{
			Timestamp:  timeNow(),
			EventType:  internalaudit.EventDocWriteFailure,
			IdentityID: owner,
			Collection: collection,
			DocID:      doc.ID,
			Success:    false,
			Error:      err.Error(),
		})
		c.log.Warn("document write failed", zap.String("collection", collection), zap.String("id", doc.ID), zap.Error(err))
		return false
	}

	c.cache.Put(doccache.Key{Collection: collection, ID: doc.ID}, doc)
	c.metrics.Inc(internalmetrics.MetricDocWrite)
	return true
}

// stampForWrite applies the write-path invariants: id assignment, owner
// tagging, and timestamps.
func stampForWrite(rec Record, owner string) {
	if rec.RecordID() == "" {
		rec.SetRecordID(uuid.NewString())
	}
	rec.SetRecordOwner(owner)
	now := timeNow()
	if rec.RecordCreatedAt().IsZero() {
		rec.SetRecordCreatedAt(now)
	}
	rec.SetRecordUpdatedAt(now)
}

// Delete soft-deletes the document: the deleted flag is set and the
// document re-saved. Hard deletion is never exposed. Deleting an already
// deleted document is an idempotent no-op reporting true.
func Delete[T any, PT recordPtr[T]](ctx context.Context, c *Client, id string) bool {
	owner := c.ownerID()
	if owner == "" {
		return false
	}
	collection := collectionOf[T, PT]()

	var doc *store.Doc
	err := c.do(ctx, func() error {
		got, err := c.store.Get(ctx, collection, id)
		if err != nil {
			return err
		}
		doc = got
		return nil
	})
	if err != nil {
		c.log.Warn("delete failed: document unreadable", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		return false
	}
	if doc.OwnerID != owner {
		c.denyCrossOwner(ctx, collection, id)
		return false
	}
	if doc.Deleted {
		return true
	}

	doc.Deleted = true
	doc.UpdatedAt = timeNow()
	if err := c.do(ctx, func() error { return c.store.Set(ctx, collection, doc) }); err != nil {
		c.metrics.Inc(internalmetrics.MetricDocWriteFailure)
		c.log.Warn("soft delete failed", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		return false
	}

	c.cache.Put(doccache.Key{Collection: collection, ID: id}, doc)
	c.metrics.Inc(internalmetrics.MetricDocWrite)
	return true
}
