// Package store implements the durable key-value collaborator backing both
// memory tiers. Values are opaque JSON records scoped by a (scope, user_id)
// namespace: thread logs live under scope "thread", long-term entities under
// scope "memories". No retrieval here is ranked — Search returns everything
// in a namespace in insertion order.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned when the underlying storage cannot be reached.
// Callers are expected to degrade (treat the tier as empty) rather than fail
// the whole turn.
var ErrUnavailable = errors.New("store unavailable")

// Namespace isolates one user's or one thread's records from all others.
// Every read and write is parameterized by a namespace; there is no
// cross-namespace query path.
type Namespace struct {
	Scope  string
	UserID string
}

func (n Namespace) String() string {
	return n.Scope + "/" + n.UserID
}

// Record is a single stored value with its key and write time.
type Record struct {
	Key       string
	Value     json.RawMessage
	CreatedAt time.Time
}

// Store is the durable-store contract consumed by the memory tiers.
// Implementations must keep Search ordered by (created_at, key) ascending.
type Store interface {
	Put(ctx context.Context, ns Namespace, key string, value json.RawMessage) error
	Get(ctx context.Context, ns Namespace, key string) (Record, error)
	Search(ctx context.Context, ns Namespace) ([]Record, error)
	Delete(ctx context.Context, ns Namespace, key string) error

	// DeleteNamespace removes every record in the namespace and returns the
	// number of records removed.
	DeleteNamespace(ctx context.Context, ns Namespace) (int, error)

	// DeleteScope removes every record under a scope across all users and
	// returns the number of records removed.
	DeleteScope(ctx context.Context, scope string) (int, error)

	// ListUserIDs returns the distinct user IDs that have at least one record
	// under the given scope, sorted ascending.
	ListUserIDs(ctx context.Context, scope string) ([]string, error)
}
