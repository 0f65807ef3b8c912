//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"canon/internal/audit"
	"canon/internal/audit/outbox"
	"canon/internal/identity/models"
	"canon/pkg/platform/sentinel"
	"canon/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	store  *PostgresStore
	outbox *outbox.PostgresStore
	ctx    context.Context
	now    time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.outbox = outbox.NewPostgresStore(s.pg.DB)
	s.store = NewPostgres(s.pg.DB, s.outbox)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(s.ctx))
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) create(id string, evidence models.Fingerprints) *models.Identity {
	identity, ev, err := models.NewIdentity(id, evidence, "actor-1", audit.ExternalActor("actor-1"), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, identity, ev))
	return identity
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	created := s.create("ID-20250301-00000001", models.Fingerprints{DocumentHash: "abc123", DeviceFingerprint: "dev-1"})

	found, err := s.store.FindByFingerprint(s.ctx, models.FieldDeviceFingerprint, "dev-1")
	s.Require().NoError(err)
	s.Equal(created.ID, found.ID)
	s.Equal([]string{"actor-1"}, found.LinkedActors)
	s.Equal([]string{"dev-1"}, found.ObservedDevices)
	s.Equal(int64(1), found.Version)
	s.Empty(found.Fingerprints.FaceEmbeddingID)

	_, err = s.store.FindByID(s.ctx, "ID-20250301-FFFFFFFF")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUniqueEvidence() {
	s.create("ID-20250301-00000001", models.Fingerprints{DocumentHash: "abc123"})

	s.Run("claimed evidence conflicts", func() {
		identity, ev, err := models.NewIdentity("ID-20250301-00000002", models.Fingerprints{DocumentHash: "abc123"}, "", audit.System("test"), s.now)
		s.Require().NoError(err)
		s.Require().ErrorIs(s.store.Create(s.ctx, identity, ev), sentinel.ErrConflict)
	})

	s.Run("taken id conflicts", func() {
		identity, ev, err := models.NewIdentity("ID-20250301-00000001", models.Fingerprints{DocumentHash: "zzz"}, "", audit.System("test"), s.now)
		s.Require().NoError(err)
		s.Require().ErrorIs(s.store.Create(s.ctx, identity, ev), sentinel.ErrConflict)
	})

	s.Run("concurrent creates on the same evidence leave one row", func() {
		var wg sync.WaitGroup
		var mu sync.Mutex
		var ok int
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				identity, ev, err := models.NewIdentity(
					"ID-20250301-1000000"+string(rune('0'+i)), models.Fingerprints{FaceEmbeddingID: "emb-race"}, "", audit.System("test"), s.now)
				s.NoError(err)
				if s.store.Create(s.ctx, identity, ev) == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		s.Equal(1, ok)
	})
}

func (s *PostgresStoreSuite) TestMutateWritesEventAndOutbox() {
	created := s.create("ID-20250301-00000001", models.Fingerprints{DocumentHash: "abc123"})

	updated, err := s.store.Mutate(s.ctx, created.ID, func(i *models.Identity) (*audit.Event, error) {
		return i.ApplyStatusTransition(models.StatusFlagged, audit.Operator("op-1"), s.now)
	})
	s.Require().NoError(err)
	s.Equal(1, updated.Counters.FlagCount)

	history, err := s.store.ListHistory(s.ctx, created.ID, 0, 10)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(audit.ActionFlagged, history[1].Action)
	s.JSONEq(`"flagged"`, string(history[1].NewValue))
	s.Equal(audit.Operator("op-1"), history[1].Actor)

	var published int
	n, err := s.outbox.ProcessBatch(s.ctx, 10, func(_ context.Context, entries []outbox.Entry) error {
		published = len(entries)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(2, published)
}

func (s *PostgresStoreSuite) TestFailedMutationRollsBack() {
	created := s.create("ID-20250301-00000001", models.Fingerprints{DocumentHash: "abc123"})

	_, err := s.store.Mutate(s.ctx, created.ID, func(i *models.Identity) (*audit.Event, error) {
		return i.ApplyStatusTransition(models.StatusPending, audit.Operator("op-1"), s.now)
	})
	s.Require().Error(err)

	found, err := s.store.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), found.Version)
}

func (s *PostgresStoreSuite) TestRiskQueries() {
	for id, score := range map[string]int{"ID-20250301-00000001": 90, "ID-20250301-00000002": 10} {
		s.create(id, models.Fingerprints{DocumentHash: id})
		_, err := s.store.Mutate(s.ctx, id, func(i *models.Identity) (*audit.Event, error) {
			return i.ApplyRiskOverride(score, models.TierLow, audit.Operator("op-1"), s.now)
		})
		s.Require().NoError(err)
	}

	high, err := s.store.ListHighRisk(s.ctx, 71, 10)
	s.Require().NoError(err)
	s.Require().Len(high, 1)
	s.Equal("ID-20250301-00000001", high[0].ID)
	s.Require().NotNil(high[0].Breakdown)
	s.Equal(models.SourceOverride, high[0].Breakdown.Source)

	maxScore := 50
	low, err := s.store.Search(s.ctx, models.SearchFilter{MaxScore: &maxScore, Tier: models.TierLow})
	s.Require().NoError(err)
	s.Require().Len(low, 1)
	s.Equal("ID-20250301-00000002", low[0].ID)
}
