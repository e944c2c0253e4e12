// Package ledger reads metered chat events from the append-only usage log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/store"
)

// ErrUnavailable wraps every failure to read the usage log. Callers must not
// treat it as an empty ledger.
var ErrUnavailable = errors.New("usage ledger unavailable")

// State distinguishes an empty ledger from one that could not be read.
type State string

const (
	StateOK          State = "ok"
	StateEmpty       State = "empty"
	StateUnavailable State = "unavailable"
)

// StateOf classifies the outcome of a scan.
func StateOf(events int, err error) State {
	switch {
	case err != nil:
		return StateUnavailable
	case events == 0:
		return StateEmpty
	default:
		return StateOK
	}
}

// EventSource is the part of the store the reader needs.
type EventSource interface {
	Events(ctx context.Context, q store.EventQuery) iter.Seq2[models.UsageEvent, error]
}

// Reader scans chat_query events for an organization.
type Reader struct {
	src       EventSource
	maxEvents int
}

// NewReader creates a Reader. maxEvents caps how many events a scan yields; 0 means no cap.
func NewReader(src EventSource, maxEvents int) *Reader {
	if maxEvents < 0 {
		maxEvents = 0
	}
	return &Reader{src: src, maxEvents: maxEvents}
}

// Scan is a lazy, restartable view of an organization's events within a window.
type Scan struct {
	ctx       context.Context
	src       EventSource
	query     store.EventQuery
	maxEvents int
	truncated bool
}

// Scan prepares a scan over orgID's chat events inside w, newest first.
func (r *Reader) Scan(ctx context.Context, orgID string, w Window) *Scan {
	return r.scan(ctx, store.EventQuery{OrganizationID: orgID}, w)
}

// Uncapped returns a reader over the same source with no row cap. Budget and
// allowance checks must see every event in their window.
func (r *Reader) Uncapped() *Reader {
	return &Reader{src: r.src}
}

// Count returns how many chat events actorID recorded in orgID inside w,
// stopping once atMost is reached. atMost <= 0 counts every event. The row cap
// does not apply.
func (r *Reader) Count(ctx context.Context, orgID, actorID string, w Window, atMost int) (int, error) {
	s := r.Uncapped().scan(ctx, store.EventQuery{OrganizationID: orgID, ActorID: actorID}, w)
	if atMost > 0 {
		s.query.Limit = atMost
	}
	n := 0
	for _, err := range s.All() {
		if err != nil {
			return 0, err
		}
		n++
		if atMost > 0 && n >= atMost {
			break
		}
	}
	return n, nil
}

func (r *Reader) scan(ctx context.Context, q store.EventQuery, w Window) *Scan {
	q.Action = models.ActionChatQuery
	q.Since = w.Start
	q.Until = w.End
	if r.maxEvents > 0 {
		q.Limit = r.maxEvents + 1
	}
	return &Scan{ctx: ctx, src: r.src, query: q, maxEvents: r.maxEvents}
}

// All returns the event sequence. Each range re-queries the store.
// Errors are wrapped in ErrUnavailable and end the sequence.
func (s *Scan) All() iter.Seq2[models.UsageEvent, error] {
	ctx := s.ctx
	return func(yield func(models.UsageEvent, error) bool) {
		s.truncated = false
		n := 0
		for ev, err := range s.src.Events(ctx, s.query) {
			if err != nil {
				yield(models.UsageEvent{}, unavailable(ctx, err))
				return
			}
			if s.maxEvents > 0 && n == s.maxEvents {
				s.truncated = true
				return
			}
			n++
			if !yield(ev, nil) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield(models.UsageEvent{}, unavailable(ctx, err))
		}
	}
}

// Truncated reports whether the last iteration stopped at the row cap.
func (s *Scan) Truncated() bool { return s.truncated }

func unavailable(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w: %w", ErrUnavailable, ctxErr, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
