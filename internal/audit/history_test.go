package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type fakePager struct {
	events []Event
	calls  int
	failAt int
}

func (p *fakePager) ListHistory(_ context.Context, _ string, afterSeq int64, limit int) ([]Event, error) {
	p.calls++
	if p.failAt > 0 && p.calls == p.failAt {
		return nil, errors.New("store unavailable")
	}
	var out []Event
	for _, ev := range p.events {
		if ev.Seq > afterSeq && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func seqEvents(n int) []Event {
	events := make([]Event, n)
	for i := range events {
		events[i] = Event{IdentityID: "ID-1", Seq: int64(i + 1), Action: ActionUpdated}
	}
	return events
}

type HistorySuite struct {
	suite.Suite
}

func TestHistorySuite(t *testing.T) {
	suite.Run(t, new(HistorySuite))
}

func (s *HistorySuite) TestPagesThroughEverything() {
	s.Run("multiple full pages plus remainder", func() {
		pager := &fakePager{events: seqEvents(250)}
		events, err := Collect(History(context.Background(), pager, "ID-1", 100))
		s.Require().NoError(err)
		s.Len(events, 250)
		s.Equal(3, pager.calls)
		for i, ev := range events {
			s.Equal(int64(i+1), ev.Seq)
		}
	})

	s.Run("exact multiple needs one empty page", func() {
		pager := &fakePager{events: seqEvents(200)}
		events, err := Collect(History(context.Background(), pager, "ID-1", 100))
		s.Require().NoError(err)
		s.Len(events, 200)
		s.Equal(3, pager.calls)
	})

	s.Run("empty history", func() {
		pager := &fakePager{}
		events, err := Collect(History(context.Background(), pager, "ID-1", 0))
		s.Require().NoError(err)
		s.Empty(events)
	})
}

func (s *HistorySuite) TestRestartable() {
	pager := &fakePager{events: seqEvents(5)}
	seq := History(context.Background(), pager, "ID-1", 2)

	first, err := Collect(seq)
	s.Require().NoError(err)
	second, err := Collect(seq)
	s.Require().NoError(err)
	s.Equal(first, second)
}

func (s *HistorySuite) TestEarlyBreakStopsPaging() {
	pager := &fakePager{events: seqEvents(50)}
	count := 0
	for _, err := range History(context.Background(), pager, "ID-1", 10) {
		s.Require().NoError(err)
		count++
		if count == 3 {
			break
		}
	}
	s.Equal(3, count)
	s.Equal(1, pager.calls)
}

func (s *HistorySuite) TestErrorEndsSequence() {
	pager := &fakePager{events: seqEvents(30), failAt: 2}
	_, err := Collect(History(context.Background(), pager, "ID-1", 10))
	s.EqualError(err, "store unavailable")
}

func (s *HistorySuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(History(ctx, &fakePager{events: seqEvents(3)}, "ID-1", 10))
	s.ErrorIs(err, context.Canceled)
}
