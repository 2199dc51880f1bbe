// Package docstore defines the transactional document store the engagement
// ledger runs against, together with its access rules and an in-memory
// implementation.
//
// Transactions are optimistic: every document read inside a transaction is
// pinned to the version that was read, and the commit fails with TX_CONFLICT
// if any of them changed in the meantime. RunTransaction re-runs the whole
// function on conflict, so two concurrent read-modify-write sequences on the
// same document are serialized.
package docstore

import (
	"context"
	"strings"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
)

// DefaultMaxAttempts is how many times a conflicting transaction is run.
const DefaultMaxAttempts = 5

// Ref addresses a document by slash-separated path, e.g. users/u1/engagement/stats.
type Ref struct {
	Path string
}

// Doc builds a Ref from path segments.
func Doc(segments ...string) Ref {
	return Ref{Path: strings.Join(segments, "/")}
}

// Segments splits the path.
func (r Ref) Segments() []string {
	if r.Path == "" {
		return nil
	}
	return strings.Split(r.Path, "/")
}

func (r Ref) String() string {
	return r.Path
}

// Snapshot is a point-in-time read of a document.
type Snapshot struct {
	Ref     Ref
	Exists  bool
	Data    map[string]interface{}
	Version int64
}

// SetOption changes how Tx.Set writes.
type SetOption int

const (
	// MergeAll overlays the given top-level fields onto the existing
	// document instead of replacing it.
	MergeAll SetOption = iota + 1
)

// MergeRequested reports whether opts contain MergeAll.
func MergeRequested(opts []SetOption) bool {
	for _, o := range opts {
		if o == MergeAll {
			return true
		}
	}
	return false
}

// Tx is the view a transaction function gets of the store.
type Tx interface {
	Get(ref Ref) (Snapshot, error)
	Set(ref Ref, data map[string]interface{}, opts ...SetOption) error
}

// TxFunc is a transaction body. It may run more than once.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is a document store with serializable per-document transactions.
type Store interface {
	RunTransaction(ctx context.Context, fn TxFunc) error
	Get(ctx context.Context, ref Ref) (Snapshot, error)
}

// Op is the kind of access being authorized.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Authorizer decides whether the caller in ctx may perform op on ref.
type Authorizer func(ctx context.Context, ref Ref, op Op) error

type userKey struct{}

// WithUser attaches the authenticated user id to ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the authenticated user id in ctx, if any.
func UserFrom(ctx context.Context) string {
	uid, _ := ctx.Value(userKey{}).(string)
	return uid
}

// OwnerOnly allows access to users/{uid}/... only for the user uid.
// Paths outside the users namespace are allowed.
func OwnerOnly(ctx context.Context, ref Ref, op Op) error {
	seg := ref.Segments()
	if len(seg) < 2 || seg[0] != "users" {
		return nil
	}
	uid := UserFrom(ctx)
	if uid == "" {
		return apperrors.Newf(apperrors.ErrPermission, "%s %s: not authenticated", op, ref.Path)
	}
	if uid != seg[1] {
		return apperrors.Newf(apperrors.ErrPermission, "%s %s: not the owner", op, ref.Path)
	}
	return nil
}

// AllowAll is the Authorizer used when none is configured.
func AllowAll(context.Context, Ref, Op) error {
	return nil
}

// ErrConflict is returned by a commit whose reads went stale.
var ErrConflict = apperrors.New(apperrors.ErrTxConflict, "document changed during transaction")

// RunWithRetry runs attempt until it succeeds, fails with something other
// than a conflict, or maxAttempts is exhausted.
func RunWithRetry(ctx context.Context, maxAttempts int, attempt func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	var err error
	for i := 0; i < maxAttempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = attempt()
		if err == nil || !apperrors.Is(err, apperrors.ErrTxConflict) {
			return err
		}
	}
	return apperrors.Wrap(apperrors.ErrTxAborted, "transaction retries exhausted", err)
}
