package meter

import (
	"cmp"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/tollgate/pkg/ledger"
	"github.com/pario-ai/tollgate/pkg/models"
)

// Totals summarises every event inside the report window.
type Totals struct {
	Cost               decimal.Decimal
	InputTokens        int64
	OutputTokens       int64
	Events             int
	EstimatedEvents    int
	UnknownModelEvents int
	// Actors counts distinct identified actors.
	Actors   int
	Earliest time.Time
}

// Breakdown is one row of a grouped view.
type Breakdown struct {
	Key          string
	Events       int
	InputTokens  int64
	OutputTokens int64
	Cost         decimal.Decimal
}

func (b *Breakdown) add(e Estimate) {
	b.Events++
	b.InputTokens += e.InputTokens
	b.OutputTokens += e.OutputTokens
	b.Cost = b.Cost.Add(e.Cost)
}

// Aggregation is the result of folding a scan.
type Aggregation struct {
	Totals  Totals
	ByModel []Breakdown
	ByDay   []Breakdown
	ByActor []Breakdown
	// ActorIDs lists the distinct identified actors, sorted.
	ActorIDs []string
	// SpendWindowCost is the cost of events inside the spend window, if one was given.
	SpendWindowCost decimal.Decimal
}

type options struct {
	spend *ledger.Window
}

// Option configures Aggregate.
type Option func(*options)

// WithSpendWindow additionally sums the cost of events inside w, whether or not
// they fall in the report window.
func WithSpendWindow(w ledger.Window) Option {
	return func(o *options) { o.spend = &w }
}

// DayLayout formats ByDay keys.
const DayLayout = "2006-01-02"

// Aggregate folds seq in a single pass. Events outside window are ignored by every
// view. The first iteration error aborts the fold and is returned.
func Aggregate(seq iter.Seq2[models.UsageEvent, error], est *Estimator, window ledger.Window, opts ...Option) (*Aggregation, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var (
		agg     Aggregation
		byModel = map[string]*Breakdown{}
		byDay   = map[string]*Breakdown{}
		byActor = map[string]*Breakdown{}
		actors  = map[string]struct{}{}
	)
	for ev, err := range seq {
		if err != nil {
			return nil, err
		}
		inReport := window.Contains(ev.CreatedAt)
		inSpend := o.spend != nil && o.spend.Contains(ev.CreatedAt)
		if !inReport && !inSpend {
			continue
		}
		e := est.Estimate(ev)
		if inSpend {
			agg.SpendWindowCost = agg.SpendWindowCost.Add(e.Cost)
		}
		if !inReport {
			continue
		}

		t := &agg.Totals
		t.Cost = t.Cost.Add(e.Cost)
		t.InputTokens += e.InputTokens
		t.OutputTokens += e.OutputTokens
		t.Events++
		if e.Estimated {
			t.EstimatedEvents++
		}
		if e.UnknownModel {
			t.UnknownModelEvents++
		}
		if t.Earliest.IsZero() || ev.CreatedAt.Before(t.Earliest) {
			t.Earliest = ev.CreatedAt
		}

		actor := ev.ActorID
		if actor == "" {
			actor = UnknownLabel
		} else {
			actors[actor] = struct{}{}
		}
		bucket(byModel, e.Model).add(e)
		bucket(byDay, ev.CreatedAt.UTC().Format(DayLayout)).add(e)
		bucket(byActor, actor).add(e)
	}

	agg.Totals.Actors = len(actors)
	agg.ActorIDs = slices.Sorted(maps.Keys(actors))
	agg.ByModel = byCostDesc(byModel)
	agg.ByActor = byCostDesc(byActor)
	agg.ByDay = flatten(byDay)
	slices.SortFunc(agg.ByDay, func(a, b Breakdown) int { return cmp.Compare(a.Key, b.Key) })
	return &agg, nil
}

func bucket(m map[string]*Breakdown, key string) *Breakdown {
	b, ok := m[key]
	if !ok {
		b = &Breakdown{Key: key}
		m[key] = b
	}
	return b
}

func flatten(m map[string]*Breakdown) []Breakdown {
	out := make([]Breakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	return out
}

func byCostDesc(m map[string]*Breakdown) []Breakdown {
	out := flatten(m)
	slices.SortFunc(out, func(a, b Breakdown) int {
		if c := b.Cost.Cmp(a.Cost); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}
