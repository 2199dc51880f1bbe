package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kimhsiao/wishwell/backend/internal/docstore"
	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
)

// DocumentStore is a docstore.Store on the documents table.
//
// Reads inside a transaction run outside any SQL transaction and record the
// version they saw. The commit re-checks those versions and applies the
// buffered writes in one SQL transaction.
type DocumentStore struct {
	db          *sql.DB
	authorize   docstore.Authorizer
	maxAttempts int
}

// DocumentOption configures a DocumentStore.
type DocumentOption func(*DocumentStore)

// WithDocumentAuthorizer sets the access rule.
func WithDocumentAuthorizer(a docstore.Authorizer) DocumentOption {
	return func(s *DocumentStore) {
		if a != nil {
			s.authorize = a
		}
	}
}

// WithDocumentMaxAttempts sets how often a conflicting transaction is run.
func WithDocumentMaxAttempts(n int) DocumentOption {
	return func(s *DocumentStore) { s.maxAttempts = n }
}

// NewDocumentStore creates a DocumentStore. The documents table must exist.
func NewDocumentStore(db *sql.DB, opts ...DocumentOption) *DocumentStore {
	s := &DocumentStore{
		db:          db,
		authorize:   docstore.AllowAll,
		maxAttempts: docstore.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements docstore.Store.
func (s *DocumentStore) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	if err := s.authorize(ctx, ref, docstore.OpRead); err != nil {
		return docstore.Snapshot{}, err
	}
	return s.read(ctx, ref)
}

func (s *DocumentStore) read(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	var (
		data    string
		version int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT data, version FROM documents WHERE path = ?", ref.Path).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Snapshot{Ref: ref, Data: map[string]interface{}{}}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to read document "+ref.Path, err)
	}
	return docstore.Snapshot{Ref: ref, Exists: true, Data: docstore.Decode([]byte(data)), Version: version}, nil
}

// RunTransaction implements docstore.Store.
func (s *DocumentStore) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return docstore.RunWithRetry(ctx, s.maxAttempts, func() error {
		tx := &sqlDocTx{ctx: ctx, store: s, reads: make(map[string]int64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.commit(ctx, tx)
	})
}

type docWrite struct {
	ref   docstore.Ref
	data  map[string]interface{}
	merge bool
}

func (s *DocumentStore) commit(ctx context.Context, tx *sqlDocTx) error {
	if len(tx.writes) == 0 {
		return nil
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer sqlTx.Rollback()

	for path, seen := range tx.reads {
		current, _, err := currentDoc(ctx, sqlTx, path)
		if err != nil {
			return err
		}
		if current != seen {
			return docstore.ErrConflict
		}
	}

	now := time.Now().UnixMilli()
	for _, w := range tx.writes {
		version, existing, err := currentDoc(ctx, sqlTx, w.ref.Path)
		if err != nil {
			return err
		}
		data, err := docstore.Apply(existing, w.data, w.merge)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode document "+w.ref.Path, err)
		}
		query := `INSERT INTO documents (path, data, version, updated_at) VALUES (?, ?, ?, ?)
				  ON CONFLICT(path) DO UPDATE SET data = excluded.data, version = excluded.version, updated_at = excluded.updated_at`
		if _, err := sqlTx.ExecContext(ctx, query, w.ref.Path, string(data), version+1, now); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to write document "+w.ref.Path, err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit transaction", err)
	}
	return nil
}

// currentDoc returns the version and data of path, or zero for a missing one.
func currentDoc(ctx context.Context, tx *sql.Tx, path string) (int64, []byte, error) {
	var (
		version int64
		data    string
	)
	err := tx.QueryRowContext(ctx, "SELECT version, data FROM documents WHERE path = ?", path).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read document "+path, err)
	}
	return version, []byte(data), nil
}

type sqlDocTx struct {
	ctx    context.Context
	store  *DocumentStore
	reads  map[string]int64
	writes []docWrite
}

func (t *sqlDocTx) Get(ref docstore.Ref) (docstore.Snapshot, error) {
	if err := t.store.authorize(t.ctx, ref, docstore.OpRead); err != nil {
		return docstore.Snapshot{}, err
	}
	snap, err := t.store.read(t.ctx, ref)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	if _, seen := t.reads[ref.Path]; !seen {
		t.reads[ref.Path] = snap.Version
	}
	return snap, nil
}

func (t *sqlDocTx) Set(ref docstore.Ref, data map[string]interface{}, opts ...docstore.SetOption) error {
	if err := t.store.authorize(t.ctx, ref, docstore.OpWrite); err != nil {
		return err
	}
	t.writes = append(t.writes, docWrite{ref: ref, data: data, merge: docstore.MergeRequested(opts)})
	return nil
}

var _ docstore.Store = (*DocumentStore)(nil)
