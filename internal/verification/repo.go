package verification

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Repo is the in-memory, append-only attempt log. Per-carrier aggregates are
// maintained incrementally on Record; windowed queries scan the log. Safe for
// concurrent use.
type Repo struct {
	scoring Scoring
	weights StepWeights
	now     func() time.Time

	mu       sync.RWMutex
	attempts []Attempt
	stats    map[string]*CarrierStats
	seq      uint64
}

// Option configures a Repo.
type Option func(*Repo)

// WithScoring sets the ranking score function. Defaults to ScoreCount.
func WithScoring(s Scoring) Option {
	return func(r *Repo) {
		if s != "" {
			r.scoring = s
		}
	}
}

// WithStepWeights sets the per-step weights used by ScoreWeighted.
func WithStepWeights(w StepWeights) Option {
	return func(r *Repo) { r.weights = w }
}

// WithClock overrides the time source used for "now" in queries.
func WithClock(now func() time.Time) Option {
	return func(r *Repo) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRepo creates an empty Repo.
func NewRepo(opts ...Option) *Repo {
	r := &Repo{
		scoring: ScoreCount,
		weights: DefaultStepWeights,
		now:     time.Now,
		stats:   make(map[string]*CarrierStats),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Scoring returns the repo's score function name.
func (r *Repo) Scoring() Scoring { return r.scoring }

// StepWeights returns the weights used by ScoreWeighted.
func (r *Repo) StepWeights() StepWeights { return r.weights }

// Now returns the repo's current time.
func (r *Repo) Now() time.Time { return r.now() }

// Record appends a to the log and returns the stored copy with its
// insertion sequence set. A zero Timestamp is filled from the repo clock
// and a missing Step is derived from the channel and outcome.
func (r *Repo) Record(a Attempt) Attempt {
	if a.Timestamp.IsZero() {
		a.Timestamp = r.now()
	}
	if a.Step == "" {
		a.Step = StepFor(a.Channel, a.Outcome)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	a.Seq = r.seq
	r.attempts = append(r.attempts, a)
	st, ok := r.stats[a.Carrier]
	if !ok {
		st = &CarrierStats{Carrier: a.Carrier}
		r.stats[a.Carrier] = st
	}
	st.add(a)
	return a
}

// Len returns the number of recorded attempts.
func (r *Repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts)
}

// Attempts returns a copy of the log ordered by timestamp, ties broken by
// insertion order.
func (r *Repo) Attempts() []Attempt {
	r.mu.RLock()
	out := slices.Clone(r.attempts)
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Attempt) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}

// Stats returns the aggregates of every carrier with at least one attempt,
// ordered by carrier name.
func (r *Repo) Stats() []CarrierStats {
	r.mu.RLock()
	out := make([]CarrierStats, 0, len(r.stats))
	for _, st := range r.stats {
		out = append(out, st.clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b CarrierStats) int { return cmp.Compare(a.Carrier, b.Carrier) })
	return out
}

// CarrierStats returns the aggregate for one carrier.
func (r *Repo) CarrierStats(carrier string) (CarrierStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stats[carrier]
	if !ok {
		return CarrierStats{}, false
	}
	return st.clone(), true
}

// Rank scores every carrier with at least one attempt and returns them
// ascending by score, ties broken by carrier name. Each call computes a
// fresh ranking.
func (r *Repo) Rank() []RankEntry {
	r.mu.RLock()
	entries := make([]RankEntry, 0, len(r.stats))
	for _, st := range r.stats {
		entries = append(entries, RankEntry{Carrier: st.Carrier, Score: r.scoring.score(*st, r.weights)})
	}
	r.mu.RUnlock()

	sortRank(entries)
	return entries
}

// RankWithin is Rank restricted to attempts whose timestamp lies in
// [now-d, now].
func (r *Repo) RankWithin(d time.Duration) []RankEntry {
	now := r.now()
	from := now.Add(-d)

	window := make(map[string]*CarrierStats)
	r.mu.RLock()
	for _, a := range r.attempts {
		if a.Timestamp.Before(from) || a.Timestamp.After(now) {
			continue
		}
		st, ok := window[a.Carrier]
		if !ok {
			st = &CarrierStats{Carrier: a.Carrier}
			window[a.Carrier] = st
		}
		st.add(a)
	}
	r.mu.RUnlock()

	entries := make([]RankEntry, 0, len(window))
	for _, st := range window {
		entries = append(entries, RankEntry{Carrier: st.Carrier, Score: r.scoring.score(*st, r.weights)})
	}
	sortRank(entries)
	return entries
}

// TimeSinceLastFailure returns how long ago carrier last failed. The second
// return is false when the carrier is unknown or has never failed.
func (r *Repo) TimeSinceLastFailure(carrier string) (time.Duration, bool) {
	r.mu.RLock()
	st, ok := r.stats[carrier]
	var last time.Time
	if ok && st.LastFailureAt != nil {
		last = *st.LastFailureAt
	} else {
		ok = false
	}
	r.mu.RUnlock()

	if !ok {
		return 0, false
	}
	return max(r.now().Sub(last), 0), true
}

func sortRank(entries []RankEntry) {
	slices.SortFunc(entries, func(a, b RankEntry) int {
		if c := cmp.Compare(a.Score, b.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Carrier, b.Carrier)
	})
}
