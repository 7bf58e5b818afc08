package remote

import "context"

// Increment is one atomic counter bump.
type Increment struct {
	Collection string
	DocID      string
	Field      string
	Delta      int64
}

// DocumentStore is the remote document store.
type DocumentStore interface {
	// Upsert merges fields into the document, creating it if missing.
	// Writing the same fields twice leaves the same document.
	Upsert(ctx context.Context, collection, id string, fields map[string]any) error

	// ApplyOnce applies incs if guard has never been applied before and
	// records the guard in the same atomic step. applied is false when the
	// guard already existed and nothing was changed. Summary counters are
	// only ever written through this call.
	ApplyOnce(ctx context.Context, guard string, incs []Increment) (applied bool, err error)

	// Counters returns the numeric fields of a counter document.
	// A missing document yields an empty map.
	Counters(ctx context.Context, collection, docID string) (map[string]int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// BlobStore is the remote blob store.
type BlobStore interface {
	// Upload stores data at path, overwriting any previous object, and
	// returns the storage path to reference it by.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)

	Close() error
}
