package remote

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// Op names a remote operation for fault injection and call accounting.
type Op string

const (
	OpUpsert    Op = "upsert"
	OpApplyOnce Op = "apply_once"
	OpCounters  Op = "counters"
	OpPing      Op = "ping"
	OpUpload    Op = "upload"
)

// FaultMode controls when an injected fault fires relative to the write.
type FaultMode string

const (
	// FaultFail returns the error without applying the operation.
	FaultFail FaultMode = "fail"
	// FaultReject returns a RejectedError without applying the operation.
	FaultReject FaultMode = "reject"
	// FaultCommitThenTimeout applies the operation and then reports a
	// network timeout, as a lost acknowledgement would.
	FaultCommitThenTimeout FaultMode = "commit_then_timeout"
)

// ErrInjected is the cause of faults injected without an explicit error.
var ErrInjected = errors.New("injected fault")

type fault struct {
	mode  FaultMode
	err   error
	times int
}

// faults is the shared fault-injection state of the in-memory backends.
type faults struct {
	mu      sync.Mutex
	offline bool
	pending map[Op][]*fault
	calls   map[Op]int
}

func (f *faults) init() {
	f.pending = make(map[Op][]*fault)
	f.calls = make(map[Op]int)
}

// Inject queues a fault for the next times calls of op. times <= 0 means 1.
func (f *faults) Inject(op Op, mode FaultMode, times int) {
	f.InjectErr(op, mode, nil, times)
}

// InjectErr is Inject with a custom underlying error.
func (f *faults) InjectErr(op Op, mode FaultMode, err error, times int) {
	if times <= 0 {
		times = 1
	}
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[op] = append(f.pending[op], &fault{mode: mode, err: err, times: times})
}

// SetOffline makes every operation fail with a NetworkError until reset.
func (f *faults) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// ClearFaults drops all pending faults and brings the store back online.
func (f *faults) ClearFaults() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = false
	clear(f.pending)
}

// Calls returns how many times op has been invoked.
func (f *faults) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// next counts the call and pops the fault that applies to it, if any.
func (f *faults) next(op Op) (*fault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.offline {
		return nil, Network(string(op), errors.New("remote unreachable"))
	}
	queue := f.pending[op]
	if len(queue) == 0 {
		return nil, nil
	}
	ft := queue[0]
	ft.times--
	if ft.times <= 0 {
		f.pending[op] = queue[1:]
	}
	switch ft.mode {
	case FaultReject:
		return nil, Rejected(string(op), "injected rejection", ft.err)
	case FaultCommitThenTimeout:
		return ft, nil
	default:
		return nil, Network(string(op), ft.err)
	}
}

// run applies fn unless a fault pre-empts it.
func (f *faults) run(ctx context.Context, op Op, fn func()) error {
	if err := ctx.Err(); err != nil {
		return Network(string(op), err)
	}
	ft, err := f.next(op)
	if err != nil {
		return err
	}
	fn()
	if ft != nil {
		return Network(string(op), errors.Join(context.DeadlineExceeded, ft.err))
	}
	return nil
}

type docKey struct {
	collection string
	id         string
}

// MemoryStore is an in-process DocumentStore.
type MemoryStore struct {
	faults

	mu       sync.Mutex
	docs     map[docKey]map[string]any
	counters map[docKey]map[string]int64
	guards   map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		docs:     make(map[docKey]map[string]any),
		counters: make(map[docKey]map[string]int64),
		guards:   make(map[string]struct{}),
	}
	s.faults.init()
	return s
}

func (s *MemoryStore) Upsert(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.run(ctx, OpUpsert, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		k := docKey{collection, id}
		doc, ok := s.docs[k]
		if !ok {
			doc = make(map[string]any, len(fields))
			s.docs[k] = doc
		}
		maps.Copy(doc, fields)
	})
}

func (s *MemoryStore) ApplyOnce(ctx context.Context, guard string, incs []Increment) (bool, error) {
	var applied bool
	err := s.run(ctx, OpApplyOnce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.guards[guard]; ok {
			return
		}
		s.guards[guard] = struct{}{}
		for _, inc := range incs {
			s.incrementLocked(inc)
		}
		applied = true
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *MemoryStore) incrementLocked(inc Increment) {
	k := docKey{inc.Collection, inc.DocID}
	c, ok := s.counters[k]
	if !ok {
		c = make(map[string]int64)
		s.counters[k] = c
	}
	c[inc.Field] += inc.Delta
}

func (s *MemoryStore) Counters(ctx context.Context, collection, docID string) (map[string]int64, error) {
	out := map[string]int64{}
	err := s.run(ctx, OpCounters, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		maps.Copy(out, s.counters[docKey{collection, docID}])
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.run(ctx, OpPing, func() {})
}

func (s *MemoryStore) Close() error {
	return nil
}

// Document returns a copy of a stored document. Test and inspection helper;
// bypasses fault injection.
func (s *MemoryStore) Document(collection, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docKey{collection, id}]
	if !ok {
		return nil, false
	}
	return maps.Clone(doc), true
}

// DocumentIDs returns the ids stored in collection.
func (s *MemoryStore) DocumentIDs(collection string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for k := range s.docs {
		if k.collection == collection {
			ids = append(ids, k.id)
		}
	}
	return ids
}

// CounterSnapshot returns every counter document keyed by
// "collection/docID". Bypasses fault injection.
func (s *MemoryStore) CounterSnapshot() map[string]map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]int64, len(s.counters))
	for k, c := range s.counters {
		out[k.collection+"/"+k.id] = maps.Clone(c)
	}
	return out
}

// MemoryBlobStore is an in-process BlobStore.
type MemoryBlobStore struct {
	faults

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryBlobStore creates an empty blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	b := &MemoryBlobStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
	b.faults.init()
	return b
}

func (b *MemoryBlobStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	err := b.run(ctx, OpUpload, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.objects[path] = append([]byte(nil), data...)
		b.types[path] = contentType
	})
	if err != nil {
		return "", err
	}
	return "mem://" + path, nil
}

func (b *MemoryBlobStore) Close() error {
	return nil
}

// Object returns a stored object and its content type.
func (b *MemoryBlobStore) Object(path string) ([]byte, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	return data, b.types[path], ok
}

// Len returns the number of stored objects.
func (b *MemoryBlobStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
