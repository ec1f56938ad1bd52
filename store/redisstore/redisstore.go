// Package redisstore implements the flocksync store contract on redis.
//
// Documents are stored as JSON blobs keyed by (collection, id) with a
// per-owner index set per collection, and change notifications ride a
// pub/sub channel per collection. It is the reference backend used by the
// integration tests; production deployments may substitute any backend
// implementing store.Interface.
//
// redisstore offers no offline durability of its own: while disconnected,
// operations fail with the unavailable signature and the flocksync client
// reports them informatively.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/hillfarm/flocksync/store"
)

// Store implements store.Interface over a redis client.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a Store. prefix namespaces all keys and channels; it
// defaults to "fd".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "fd"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) docKey(collection, id string) string {
	return s.prefix + ":doc:" + collection + ":" + id
}

func (s *Store) ownerKey(collection, ownerID string) string {
	return s.prefix + ":own:" + collection + ":" + ownerID
}

func (s *Store) channel(collection string) string {
	return s.prefix + ":ch:" + collection
}

func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return store.NewError(store.CodeNotFound, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return store.NewError(store.CodeDeadlineExceeded, op, err)
	default:
		return store.NewError(store.CodeUnavailable, op, err)
	}
}

// Get returns the document at (collection, id), soft-deleted included.
func (s *Store) Get(ctx context.Context, collection, id string) (*store.Doc, error) {
	data, err := s.redis.Get(ctx, s.docKey(collection, id)).Bytes()
	if err != nil {
		return nil, mapErr("get", err)
	}

	var doc store.Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, store.NewError(store.CodeInternal, "get", fmt.Errorf("corrupt document: %w", err))
	}
	return &doc, nil
}

// Set creates or replaces the document and publishes a change.
func (s *Store) Set(ctx context.Context, collection string, doc *store.Doc) error {
	if doc == nil || doc.ID == "" {
		return store.NewError(store.CodeInternal, "set", errors.New("document id required"))
	}

	existed, err := s.redis.Exists(ctx, s.docKey(collection, doc.ID)).Result()
	if err != nil {
		return mapErr("set", err)
	}

	if err := s.write(ctx, collection, []*store.Doc{doc}); err != nil {
		return err
	}

	s.publish(ctx, collection, changeKind(doc, existed > 0), doc)
	return nil
}

// SetBatch writes docs in a single transaction: all or nothing.
func (s *Store) SetBatch(ctx context.Context, collection string, docs []*store.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return store.NewError(store.CodeInternal, "setbatch", errors.New("document id required"))
		}
	}

	if err := s.write(ctx, collection, docs); err != nil {
		return err
	}

	for _, doc := range docs {
		s.publish(ctx, collection, changeKind(doc, true), doc)
	}
	return nil
}

func (s *Store) write(ctx context.Context, collection string, docs []*store.Doc) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, doc := range docs {
			data, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			pipe.Set(ctx, s.docKey(collection, doc.ID), data, 0)
			if doc.OwnerID != "" {
				pipe.SAdd(ctx, s.ownerKey(collection, doc.OwnerID), doc.ID)
			}
		}
		return nil
	})
	return mapErr("write", err)
}

func changeKind(doc *store.Doc, existed bool) store.ChangeKind {
	switch {
	case doc.Deleted:
		return store.ChangeRemoved
	case existed:
		return store.ChangeModified
	default:
		return store.ChangeAdded
	}
}

func (s *Store) publish(ctx context.Context, collection string, kind store.ChangeKind, doc *store.Doc) {
	change := store.Change{Kind: kind, Collection: collection, Doc: doc}
	data, err := json.Marshal(change)
	if err != nil {
		return
	}
	// Listener delivery is best effort; a failed publish never fails the
	// write that caused it.
	_ = s.redis.Publish(ctx, s.channel(collection), data).Err()
}

// GetAll returns the owner's non-deleted documents, most recently updated
// first, capped at limit.
func (s *Store) GetAll(ctx context.Context, collection, ownerID string, limit int) ([]*store.Doc, error) {
	ids, err := s.redis.SMembers(ctx, s.ownerKey(collection, ownerID)).Result()
	if err != nil {
		return nil, mapErr("getall", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, mapErr("getall", err)
	}

	docs := make([]*store.Doc, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var doc store.Doc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		if doc.Deleted || doc.OwnerID != ownerID {
			continue
		}
		docs = append(docs, &doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// ListenDoc delivers changes for one document until cancelled.
func (s *Store) ListenDoc(ctx context.Context, collection, id string, fn func(store.Change)) (store.CancelFunc, error) {
	return s.listen(ctx, collection, func(change store.Change) bool {
		return change.Doc != nil && change.Doc.ID == id
	}, fn)
}

// ListenAll delivers changes for every document owned by ownerID in the
// collection until cancelled.
func (s *Store) ListenAll(ctx context.Context, collection, ownerID string, fn func(store.Change)) (store.CancelFunc, error) {
	return s.listen(ctx, collection, func(change store.Change) bool {
		return change.Doc != nil && change.Doc.OwnerID == ownerID
	}, fn)
}

func (s *Store) listen(ctx context.Context, collection string, match func(store.Change) bool, fn func(store.Change)) (store.CancelFunc, error) {
	pubsub := s.redis.Subscribe(ctx, s.channel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, mapErr("listen", err)
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change store.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				if match(change) {
					fn(change)
				}
			case <-done:
				return
			}
		}
	}()

	return cancel, nil
}
