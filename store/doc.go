// Package store defines the contract between flocksync and a remote
// document store: the wire-level document shape, the operations the client
// consumes, change notifications, and the closed set of error codes used
// for retry classification.
//
// # Architecture boundaries
//
// This package owns the transport-neutral document model. Concrete
// backends (store/redisstore, application-supplied adapters) implement
// [Interface]; the root package consumes it and never sees backend types.
//
// # What this package must NOT do
//
//   - Import the root flocksync package or any backend package.
//   - Perform I/O of its own.
package store
