package docstore

import (
	"context"
	"sync"
)

type memDoc struct {
	data    []byte
	version int64
}

type pendingWrite struct {
	ref   Ref
	data  map[string]interface{}
	merge bool
}

// MemoryStore is an in-process Store with the same conflict semantics as
// the SQLite-backed store.
type MemoryStore struct {
	mu          sync.Mutex
	docs        map[string]*memDoc
	authorize   Authorizer
	maxAttempts int

	// beforeCommit runs between the transaction body and the commit; tests
	// use it to inject concurrent writers.
	beforeCommit func()
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithAuthorizer sets the access rule.
func WithAuthorizer(a Authorizer) MemoryOption {
	return func(s *MemoryStore) { s.authorize = a }
}

// WithMaxAttempts sets how often a conflicting transaction is retried.
func WithMaxAttempts(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxAttempts = n }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:        make(map[string]*memDoc),
		authorize:   AllowAll,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, ref Ref) (Snapshot, error) {
	if err := s.authorize(ctx, ref, OpRead); err != nil {
		return Snapshot{}, err
	}
	return s.read(ref), nil
}

func (s *MemoryStore) read(ref Ref) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[ref.Path]
	if !ok {
		return Snapshot{Ref: ref, Data: map[string]interface{}{}}
	}
	return Snapshot{Ref: ref, Exists: true, Data: Decode(doc.data), Version: doc.version}
}

// RunTransaction implements Store.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	return RunWithRetry(ctx, s.maxAttempts, func() error {
		tx := &memTx{ctx: ctx, store: s, reads: make(map[string]int64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit()
		}
		return s.commit(tx)
	})
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for path, version := range tx.reads {
		current := int64(0)
		if doc, ok := s.docs[path]; ok {
			current = doc.version
		}
		if current != version {
			return ErrConflict
		}
	}

	for _, w := range tx.writes {
		var existing []byte
		var version int64
		if doc, ok := s.docs[w.ref.Path]; ok {
			existing, version = doc.data, doc.version
		}
		data, err := Apply(existing, w.data, w.merge)
		if err != nil {
			return err
		}
		s.docs[w.ref.Path] = &memDoc{data: data, version: version + 1}
	}
	return nil
}

type memTx struct {
	ctx    context.Context
	store  *MemoryStore
	reads  map[string]int64
	writes []pendingWrite
}

func (t *memTx) Get(ref Ref) (Snapshot, error) {
	if err := t.store.authorize(t.ctx, ref, OpRead); err != nil {
		return Snapshot{}, err
	}
	snap := t.store.read(ref)
	if _, seen := t.reads[ref.Path]; !seen {
		t.reads[ref.Path] = snap.Version
	}
	return snap, nil
}

func (t *memTx) Set(ref Ref, data map[string]interface{}, opts ...SetOption) error {
	if err := t.store.authorize(t.ctx, ref, OpWrite); err != nil {
		return err
	}
	t.writes = append(t.writes, pendingWrite{ref: ref, data: data, merge: MergeRequested(opts)})
	return nil
}

var _ Store = (*MemoryStore)(nil)
