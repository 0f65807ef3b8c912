package audit

import (
	"context"
	"iter"
)

// DefaultPageSize is used when callers pass a non-positive page size.
const DefaultPageSize = 100

// Pager reads one page of an identity's history after a sequence number.
type Pager interface {
	ListHistory(ctx context.Context, identityID string, afterSeq int64, limit int) ([]Event, error)
}

// History lazily walks the full history of an identity in append order. The
// sequence is finite and restartable: ranging over it again starts from the
// first event. Iteration stops at the first error, which is yielded once.
func History(ctx context.Context, pager Pager, identityID string, pageSize int) iter.Seq2[Event, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(Event, error) bool) {
		var after int64
		for {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}
			page, err := pager.ListHistory(ctx, identityID, after, pageSize)
			if err != nil {
				yield(Event{}, err)
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
				after = ev.Seq
			}
			if len(page) < pageSize {
				return
			}
		}
	}
}

// Collect drains a history sequence.
func Collect(seq iter.Seq2[Event, error]) ([]Event, error) {
	var out []Event
	for ev, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
