package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Chiwai15/agent-memory-chatbot/internal/store"
)

// Scope is the store scope holding per-user entity collections.
const Scope = "memories"

// ConfidenceThreshold is the persistence cutoff: candidates below it are
// never stored. Fixed by policy, not configurable.
const ConfidenceThreshold = 0.5

// persistConcurrency bounds parallel candidate writes.
const persistConcurrency = 4

// Store is the durable-store surface the manager needs.
type Store interface {
	Put(ctx context.Context, ns store.Namespace, key string, value json.RawMessage) error
	Search(ctx context.Context, ns store.Namespace) ([]store.Record, error)
	DeleteNamespace(ctx context.Context, ns store.Namespace) (int, error)
	DeleteScope(ctx context.Context, scope string) (int, error)
	ListUserIDs(ctx context.Context, scope string) ([]string, error)
}

// Manager validates, filters, and persists extracted candidates, and answers
// retrieval queries over a user's entity collection.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a Manager over the given store.
func NewManager(s Store) *Manager {
	return &Manager{store: s, logger: slog.Default()}
}

// FailedCandidate pairs a candidate with the reason it was not stored.
type FailedCandidate struct {
	Candidate Candidate
	Err       error
}

// PersistResult reports the outcome of one persist batch. Partial success is
// a normal outcome: Stored and Failed may both be non-empty.
type PersistResult struct {
	Stored  []MemoryEntity
	Failed  []FailedCandidate
	Dropped int // candidates below the confidence threshold, not stored
}

func namespace(userID string) store.Namespace {
	return store.Namespace{Scope: Scope, UserID: userID}
}

// Persist filters candidates by the confidence threshold and writes each
// survivor as a new entity under a fresh unique key. Candidates are written
// independently: one failed write never aborts the rest of the batch.
//
// There is no dedup within a batch — two semantically identical candidates
// become two entities. Duplicate drift is bounded by per-turn extraction
// volume and left to a future compaction phase.
func (m *Manager) Persist(ctx context.Context, userID string, candidates []Candidate) PersistResult {
	var result PersistResult
	ns := namespace(userID)

	type outcome struct {
		entity MemoryEntity
		failed *FailedCandidate
		ok     bool
	}
	outcomes := make([]outcome, len(candidates))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(persistConcurrency)

	for i, raw := range candidates {
		cand := raw.Normalize()

		if err := cand.Validate(); err != nil {
			outcomes[i] = outcome{failed: &FailedCandidate{Candidate: raw, Err: err}}
			continue
		}
		if cand.Confidence < ConfidenceThreshold {
			m.logger.Debug("dropping low-confidence candidate",
				"user_id", userID, "type", cand.Type, "confidence", cand.Confidence)
			result.Dropped++
			continue
		}

		i, cand := i, cand
		g.Go(func() error {
			entity := MemoryEntity{
				Key:               uuid.New().String(),
				Type:              cand.Type,
				Value:             cand.Value,
				Confidence:        cand.Confidence,
				Importance:        cand.Importance,
				TemporalStatus:    cand.TemporalStatus,
				ReferenceSentence: cand.ReferenceSentence,
				CreatedAt:         time.Now().UTC(),
			}
			value, err := json.Marshal(entity)
			if err != nil {
				outcomes[i] = outcome{failed: &FailedCandidate{Candidate: cand, Err: err}}
				return nil
			}
			if err := m.store.Put(gCtx, ns, entity.Key, value); err != nil {
				outcomes[i] = outcome{failed: &FailedCandidate{Candidate: cand, Err: err}}
				return nil
			}
			outcomes[i] = outcome{entity: entity, ok: true}
			return nil
		})
	}

	// Goroutines never return errors; Wait is a barrier.
	g.Wait()

	for _, o := range outcomes {
		switch {
		case o.ok:
			result.Stored = append(result.Stored, o.entity)
		case o.failed != nil:
			m.logger.Warn("candidate not persisted",
				"user_id", userID, "type", o.failed.Candidate.Type, "error", o.failed.Err)
			result.Failed = append(result.Failed, *o.failed)
		}
	}

	if result.Dropped > 0 {
		m.logger.Debug("persist batch complete",
			"user_id", userID,
			"stored", len(result.Stored),
			"failed", len(result.Failed),
			"dropped_below_threshold", result.Dropped,
		)
	}
	return result
}

// RetrieveAll returns every stored entity for the user, in store order. This
// is an exhaustive namespace scan by design: nothing is ranked and nothing is
// silently omitted. Malformed records are skipped with a warning.
func (m *Manager) RetrieveAll(ctx context.Context, userID string) ([]MemoryEntity, error) {
	records, err := m.store.Search(ctx, namespace(userID))
	if err != nil {
		return nil, fmt.Errorf("retrieving entities for user %s: %w", userID, err)
	}

	entities := make([]MemoryEntity, 0, len(records))
	for _, rec := range records {
		var entity MemoryEntity
		if err := json.Unmarshal(rec.Value, &entity); err != nil {
			m.logger.Warn("skipping malformed entity record", "user_id", userID, "key", rec.Key, "error", err)
			continue
		}
		entity.Key = rec.Key
		entities = append(entities, entity)
	}
	return entities, nil
}

// DeleteAll removes every entity for the user and returns the count removed.
func (m *Manager) DeleteAll(ctx context.Context, userID string) (int, error) {
	n, err := m.store.DeleteNamespace(ctx, namespace(userID))
	if err != nil {
		return 0, fmt.Errorf("deleting entities for user %s: %w", userID, err)
	}
	return n, nil
}

// DeleteAllGlobal removes every entity for every user and returns the count
// removed.
func (m *Manager) DeleteAllGlobal(ctx context.Context) (int, error) {
	n, err := m.store.DeleteScope(ctx, Scope)
	if err != nil {
		return 0, fmt.Errorf("deleting all entities: %w", err)
	}
	return n, nil
}

// ListUsers returns the IDs of users with at least one stored entity.
func (m *Manager) ListUsers(ctx context.Context) ([]string, error) {
	ids, err := m.store.ListUserIDs(ctx, Scope)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return ids, nil
}
