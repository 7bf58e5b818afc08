// Package remote defines the boundary to the cloud document and blob stores
// and provides the backends eggsync can sync into.
//
// Document stores: Postgres, Redis and an in-memory store. Blob stores: S3,
// a local directory and an in-memory store. The in-memory backends support
// fault injection and are what the scenario harness runs against.
//
// Every backend returns typed errors: *NetworkError for anything that may
// succeed on retry (including timeouts whose outcome is unknown) and
// *RejectedError for writes the store refused as malformed.
package remote
