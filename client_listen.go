package flocksync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	internalaudit "github.com/hillfarm/flocksync/internal/audit"
	"github.com/hillfarm/flocksync/internal/doccache"
	"github.com/hillfarm/flocksync/internal/listeners"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
	"github.com/hillfarm/flocksync/store"
)

// Event is a typed change notification delivered to a listener handler.
// Record is nil for EventRemoved when the backend withheld the final
// document body.
type Event[T any] struct {
	Kind   EventKind
	ID     string
	Record *T
}

// ListenDocument subscribes to live changes for one of the owner's
// documents. Registering the same document twice replaces the first
// subscription; exceeding the listener cap evicts the oldest one.
// Handlers run on the backend's delivery goroutine and must not block.
func ListenDocument[T any, PT recordPtr[T]](ctx context.Context, c *Client, id string, handler func(Event[T])) error {
	owner := c.ownerID()
	if owner == "" {
		return ErrNotAuthenticated
	}
	collection := collectionOf[T, PT]()

	cancel, err := c.store.ListenDoc(ctx, collection, id, c.changeRelay(collection, owner, handlerOf[T, PT](handler)))
	if err != nil {
		return classifyStore(err)
	}
	return c.register(ctx, listeners.Key{Collection: collection, ID: id}, cancel)
}

// ListenCollection subscribes to live changes across all of the owner's
// documents in the record's collection. One collection subscription exists
// per collection; re-registering replaces it.
func ListenCollection[T any, PT recordPtr[T]](ctx context.Context, c *Client, handler func(Event[T])) error {
	owner := c.ownerID()
	if owner == "" {
		return ErrNotAuthenticated
	}
	collection := collectionOf[T, PT]()

	cancel, err := c.store.ListenAll(ctx, collection, owner, c.changeRelay(collection, owner, handlerOf[T, PT](handler)))
	if err != nil {
		return classifyStore(err)
	}
	return c.register(ctx, listeners.Key{Collection: collection, ID: listeners.CollectionID}, cancel)
}

// handlerOf adapts a typed handler to the untyped relay, decoding the
// document envelope into the caller's record type.
func handlerOf[T any, PT recordPtr[T]](handler func(Event[T])) func(kind EventKind, doc *store.Doc) {
	return func(kind EventKind, doc *store.Doc) {
		ev := Event[T]{Kind: kind, ID: doc.ID}
		if kind != EventRemoved || len(doc.Data) > 0 {
			rec, err := decodeRecord[T, PT](doc)
			if err == nil {
				ev.Record = (*T)(rec)
			}
		}
		handler(ev)
	}
}

// changeRelay re-validates ownership on every delivery before forwarding,
// translates soft deletions into EventRemoved, and refreshes the cache
// with the delivered document.
func (c *Client) changeRelay(collection, owner string, forward func(EventKind, *store.Doc)) func(store.Change) {
	return func(change store.Change) {
		doc := change.Doc
		if doc == nil {
			return
		}
		if doc.OwnerID != owner {
			c.metrics.Inc(internalmetrics.MetricCrossOwnerDenied)
			return
		}

		c.cache.Put(doccache.Key{Collection: collection, ID: doc.ID}, doc)

		kind := EventModified
		switch {
		case doc.Deleted || change.Kind == store.ChangeRemoved:
			kind = EventRemoved
		case change.Kind == store.ChangeAdded:
			kind = EventAdded
		}
		forward(kind, doc)
	}
}

// register records the subscription in the bounded registry, translating
// registry outcomes into metrics, audit events, and public errors.
func (c *Client) register(ctx context.Context, key listeners.Key, cancel store.CancelFunc) error {
	replaced, evicted, err := c.registry.Register(ctx, key, cancel)
	switch {
	case errors.Is(err, listeners.ErrLockTimeout):
		return ErrTimeout
	case errors.Is(err, listeners.ErrClosed):
		return ErrListenerClosed
	case err != nil:
		return ErrUnknown
	}

	c.metrics.Inc(internalmetrics.MetricListenerRegistered)
	if replaced {
		c.metrics.Inc(internalmetrics.MetricListenerReplaced)
	}
	if evicted {
		c.metrics.Inc(internalmetrics.MetricListenerEvicted)
		c.audit.Emit(ctx, internalaudit.Event{
			Timestamp:  timeNow(),
			EventType:  internalaudit.EventListenerEvicted,
			Collection: key.Collection,
			DocID:      key.ID,
			Success:    true,
		})
		c.log.Info("oldest listener evicted to stay under cap",
			zap.String("collection", key.Collection),
			zap.String("id", key.ID))
	}
	return nil
}

// StopListening cancels the subscription for one of the owner's documents.
func StopListening[T any, PT recordPtr[T]](ctx context.Context, c *Client, id string) bool {
	collection := collectionOf[T, PT]()
	return c.registry.Unsubscribe(ctx, listeners.Key{Collection: collection, ID: id})
}

// StopListeningCollection cancels the collection-wide subscription for the
// record's collection.
func StopListeningCollection[T any, PT recordPtr[T]](ctx context.Context, c *Client) bool {
	collection := collectionOf[T, PT]()
	return c.registry.Unsubscribe(ctx, listeners.Key{Collection: collection, ID: listeners.CollectionID})
}

// UnsubscribeAll cancels every live subscription and reports how many were
// released. Intended for lifecycle boundaries such as app backgrounding.
func (c *Client) UnsubscribeAll(ctx context.Context) int {
	n := c.registry.UnsubscribeAll(ctx)
	if n > 0 {
		c.log.Info("all listeners released", zap.Int("count", n))
	}
	return n
}

// ActiveListeners reports the live subscription count.
func (c *Client) ActiveListeners(ctx context.Context) int {
	return c.registry.Len(ctx)
}

// InvalidateCached drops the cached copy of one document, forcing the next
// read through to the store.
func InvalidateCached[T any, PT recordPtr[T]](c *Client, id string) {
	c.cache.Invalidate(doccache.Key{Collection: collectionOf[T, PT](), ID: id})
}
