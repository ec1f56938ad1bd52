// Package flocksync provides an offline-resilient session and document
// synchronization layer: a session manager that keeps an authenticated
// identity alive across arbitrary network loss, and a typed document client
// with caching, bounded change listeners, transient-error retry, and soft
// deletion over a remote document store.
//
// The package is designed for long-lived field clients: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// flocksync is the public surface. It exposes [Engine], [Builder], [Config],
// the [SessionManager] and [Client] components, and value types (Identity,
// AuthResult, Meta, etc.). All internal coordination (document caching,
// listener bookkeeping, retry scheduling, audit dispatch) lives under
// internal/ and is never exported. Collaborator adapters that applications
// may reuse directly (credential tiers, the redis-backed store, ID token
// inspection) live in small public subpackages.
//
// # What this package must NOT do
//
//   - Clear the current identity for any reason other than an explicit
//     SignOut. Refresh failures, lock timeouts, and network loss always
//     retain the last known identity.
//   - Expose hard deletion of documents, or return a document belonging to
//     a different owner than the active identity.
//   - Leak provider- or store-specific error values across the public
//     boundary; every failure is classified into the closed taxonomy in
//     errors.go.
//
// # Durability contract
//
// The remote document store is assumed to provide its own offline cache and
// write queue. flocksync limits itself to request-level retry, identity
// persistence, and resource bounding; it carries no write-ahead log and no
// conflict resolution of its own.
package flocksync
