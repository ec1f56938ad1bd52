package flocksync

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hillfarm/flocksync/internal/doccache"
	internalmetrics "github.com/hillfarm/flocksync/internal/metrics"
	"github.com/hillfarm/flocksync/store"
)

// BatchSave writes the records in fixed-size chunks, at most a few chunks
// in flight at once. Each chunk commits atomically on its own; one chunk
// failing does not roll back the others. The boolean reports whether every
// chunk committed.
func BatchSave[T any, PT recordPtr[T]](ctx context.Context, c *Client, recs []PT) bool {
	owner := c.ownerID()
	if owner == "" {
		c.log.Warn("batch save rejected: not authenticated")
		return false
	}
	if len(recs) == 0 {
		return true
	}
	collection := collectionOf[T, PT]()

	docs := make([]*store.Doc, 0, len(recs))
	for _, rec := range recs {
		stampForWrite(rec, owner)
		doc, err := encodeRecord[T, PT](rec)
		if err != nil {
			c.log.Warn("batch save rejected: encode failed", zap.String("collection", collection), zap.Error(err))
			return false
		}
		docs = append(docs, doc)
	}

	sem := semaphore.NewWeighted(int64(c.maxParallel))
	var wg sync.WaitGroup
	var failed atomic.Uint64

	for start := 0; start < len(docs); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[start:end]

		if err := sem.Acquire(ctx, 1); err != nil {
			failed.Add(1)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			err := c.do(ctx, func() error { return c.store.SetBatch(ctx, collection, chunk) })
			if err != nil {
				failed.Add(1)
				c.metrics.Inc(internalmetrics.MetricBatchChunkFailure)
				c.log.Warn("batch chunk failed",
					zap.String("collection", collection),
					zap.Int("size", len(chunk)),
					zap.Error(err))
				return
			}
			c.metrics.Inc(internalmetrics.MetricBatchChunkSuccess)
			for _, doc := range chunk {
				c.cache.Put(doccache.Key{Collection: collection, ID: doc.ID}, doc)
			}
		}()
	}
	wg.Wait()

	if n := failed.Load(); n > 0 {
		c.metrics.Inc(internalmetrics.MetricDocWriteFailure)
		return false
	}
	c.metrics.Add(internalmetrics.MetricDocWrite, uint64(len(docs)))
	return true
}
