package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"canon/internal/audit"
	"canon/internal/identity/models"
	"canon/pkg/platform/sentinel"
)

// numShards spreads per-identity read-modify-write locks so unrelated
// identities never wait on each other.
const numShards = 128

type memoryRecord struct {
	identity *models.Identity
	history  []audit.Event
}

// InMemoryStore keeps identities, their history and the evidence index in
// process. Mutations of one identity are serialized by its shard lock; the
// map lock is held only to read or swap records.
type InMemoryStore struct {
	shards   [numShards]sync.Mutex
	mu       sync.RWMutex
	records  map[string]*memoryRecord
	evidence map[models.EvidenceField]map[string]string
}

func NewInMemory() *InMemoryStore {
	s := &InMemoryStore{
		records:  make(map[string]*memoryRecord),
		evidence: make(map[models.EvidenceField]map[string]string),
	}
	for _, f := range models.MatchPriority {
		s.evidence[f] = make(map[string]string)
	}
	return s
}

// Create stores a new identity with its creation event. Taken identifiers
// and already claimed evidence both report sentinel.ErrConflict.
func (s *InMemoryStore) Create(ctx context.Context, identity *models.Identity, event *audit.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[identity.ID]; exists {
		return fmt.Errorf("%w: identity id %s taken", sentinel.ErrConflict, identity.ID)
	}
	for _, f := range models.MatchPriority {
		if v := identity.Fingerprints.Get(f); v != "" {
			if _, claimed := s.evidence[f][v]; claimed {
				return fmt.Errorf("%w: %s already claimed", sentinel.ErrConflict, f)
			}
		}
	}

	identity.Stamp(event)
	s.records[identity.ID] = &memoryRecord{identity: identity.Clone(), history: []audit.Event{*event}}
	for _, f := range models.MatchPriority {
		if v := identity.Fingerprints.Get(f); v != "" {
			s.evidence[f][v] = identity.ID
		}
	}
	return nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.identity.Clone(), nil
}

func (s *InMemoryStore) FindByFingerprint(ctx context.Context, field models.EvidenceField, value string) (*models.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.evidence[field][value]
	if !ok || value == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.records[id].identity.Clone(), nil
}

func (s *InMemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

// Mutate loads the identity under its shard lock, applies fn to a private
// copy and, if fn produced an event, publishes the copy and the event
// together. Readers see either the old record or the new one with its event.
func (s *InMemoryStore) Mutate(ctx context.Context, id string, fn models.MutateFunc) (*models.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shard := &s.shards[shardFor(id)]
	shard.Lock()
	defer shard.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	event, err := fn(current)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return current, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[id]
	if current.Fingerprints != rec.identity.Fingerprints {
		return nil, fmt.Errorf("%w: evidence fingerprints are immutable", sentinel.ErrInvalidState)
	}
	current.Stamp(event)
	rec.identity = current.Clone()
	rec.history = append(rec.history, *event)
	return current, nil
}

func (s *InMemoryStore) ListHistory(ctx context.Context, id string, afterSeq int64, limit int) ([]audit.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	// history[i] carries Seq i+1
	start := min(max(afterSeq, 0), int64(len(rec.history)))
	end := min(start+int64(max(limit, 0)), int64(len(rec.history)))
	return slices.Clone(rec.history[start:end]), nil
}

// Search returns matching identities oldest first.
func (s *InMemoryStore) Search(ctx context.Context, filter models.SearchFilter) ([]*models.Identity, error) {
	out, err := s.collect(ctx, filter.Matches)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *models.Identity) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return truncate(out, filter.EffectiveLimit()), nil
}

// ListHighRisk returns identities scoring at or above threshold, riskiest first.
func (s *InMemoryStore) ListHighRisk(ctx context.Context, threshold, limit int) ([]*models.Identity, error) {
	out, err := s.collect(ctx, func(i *models.Identity) bool { return i.RiskScore >= threshold })
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *models.Identity) int {
		return cmp.Or(cmp.Compare(b.RiskScore, a.RiskScore), cmp.Compare(a.ID, b.ID))
	})
	return truncate(out, limit), nil
}

func (s *InMemoryStore) collect(ctx context.Context, keep func(*models.Identity) bool) ([]*models.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Identity
	for _, rec := range s.records {
		if keep(rec.identity) {
			out = append(out, rec.identity.Clone())
		}
	}
	return out, nil
}

func truncate(in []*models.Identity, limit int) []*models.Identity {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

// shardFor uses FNV-1a for an even spread of identity ids.
func shardFor(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h % numShards
}
