package ledger

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/store"
)

type sliceSource struct {
	events  []models.UsageEvent
	err     error
	queries []store.EventQuery
}

func (s *sliceSource) Events(_ context.Context, q store.EventQuery) iter.Seq2[models.UsageEvent, error] {
	s.queries = append(s.queries, q)
	return func(yield func(models.UsageEvent, error) bool) {
		if s.err != nil {
			yield(models.UsageEvent{}, s.err)
			return
		}
		n := 0
		for _, ev := range s.events {
			if q.Limit > 0 && n == q.Limit {
				return
			}
			n++
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func events(n int) []models.UsageEvent {
	out := make([]models.UsageEvent, n)
	for i := range out {
		out[i] = models.UsageEvent{ID: int64(i + 1), Action: models.ActionChatQuery}
	}
	return out
}

func count(t *testing.T, s *Scan) int {
	t.Helper()
	n := 0
	for _, err := range s.All() {
		require.NoError(t, err)
		n++
	}
	return n
}

func TestScanBuildsQuery(t *testing.T) {
	src := &sliceSource{}
	w := Window{Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)}
	count(t, NewReader(src, 100).Scan(context.Background(), "acme", w))

	require.Len(t, src.queries, 1)
	q := src.queries[0]
	assert.Equal(t, "acme", q.OrganizationID)
	assert.Equal(t, models.ActionChatQuery, q.Action)
	assert.Equal(t, w.Start, q.Since)
	assert.Equal(t, w.End, q.Until)
	assert.Equal(t, 101, q.Limit)
}

func TestScanIsRestartable(t *testing.T) {
	src := &sliceSource{events: events(4)}
	s := NewReader(src, 0).Scan(context.Background(), "acme", Window{End: time.Now()})
	assert.Equal(t, 4, count(t, s))
	assert.Equal(t, 4, count(t, s))
	assert.Len(t, src.queries, 2)
	assert.False(t, s.Truncated())
}

func TestScanTruncatesAtCap(t *testing.T) {
	src := &sliceSource{events: events(10)}
	s := NewReader(src, 3).Scan(context.Background(), "acme", Window{End: time.Now()})
	assert.Equal(t, 3, count(t, s))
	assert.True(t, s.Truncated())

	exact := NewReader(&sliceSource{events: events(3)}, 3).Scan(context.Background(), "acme", Window{End: time.Now()})
	assert.Equal(t, 3, count(t, exact))
	assert.False(t, exact.Truncated())
}

func TestUncappedIgnoresCap(t *testing.T) {
	src := &sliceSource{events: events(10)}
	s := NewReader(src, 3).Uncapped().Scan(context.Background(), "acme", Window{End: time.Now()})
	assert.Equal(t, 10, count(t, s))
	assert.False(t, s.Truncated())
	assert.Zero(t, src.queries[0].Limit)
}

func TestCountStopsAtLimit(t *testing.T) {
	src := &sliceSource{events: events(5)}
	r := NewReader(src, 2)

	n, err := r.Count(context.Background(), "acme", "sam", Window{End: time.Now()}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "sam", src.queries[0].ActorID)
	assert.Equal(t, 3, src.queries[0].Limit)

	// the row cap of 2 does not bound the count
	n, err = r.Count(context.Background(), "acme", "sam", Window{End: time.Now()}, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestCountWrapsFailures(t *testing.T) {
	_, err := NewReader(&sliceSource{err: errors.New("db down")}, 0).
		Count(context.Background(), "acme", "sam", Window{End: time.Now()}, 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestScanWrapsFailures(t *testing.T) {
	boom := errors.New("db down")
	s := NewReader(&sliceSource{err: boom}, 0).Scan(context.Background(), "acme", Window{End: time.Now()})

	var got error
	for _, err := range s.All() {
		got = err
	}
	require.Error(t, got)
	assert.ErrorIs(t, got, ErrUnavailable)
	assert.ErrorIs(t, got, boom)
	assert.Equal(t, StateUnavailable, StateOf(0, got))
}

func TestScanCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewReader(&sliceSource{}, 0).Scan(ctx, "acme", Window{End: time.Now()})

	var got error
	for _, err := range s.All() {
		got = err
	}
	assert.ErrorIs(t, got, ErrUnavailable)
	assert.ErrorIs(t, got, context.Canceled)
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, StateEmpty, StateOf(0, nil))
	assert.Equal(t, StateOK, StateOf(2, nil))
}
