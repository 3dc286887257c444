// Package balancer chooses which carrier handles the next verification attempt.
package balancer

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/telecomverify/telecom/internal/verification"
)

// ErrNoProviders is returned by Select when the balancer has nothing to choose from.
var ErrNoProviders = errors.New("no providers configured")

// Kind names a balancing strategy.
type Kind string

const (
	KindRoundRobin Kind = "round-robin"
	KindBest       Kind = "best"
)

// ParseKind accepts "round-robin" (alias "rr") and "best" (alias "b").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rr", "round-robin", "roundrobin":
		return KindRoundRobin, nil
	case "b", "best":
		return KindBest, nil
	default:
		return "", fmt.Errorf("unknown balancer %q (supported: round-robin, best)", s)
	}
}

// Balancer selects the carrier for the next attempt. Implementations are safe
// for concurrent use.
type Balancer interface {
	Select() (string, error)
}

// Ranker supplies the current carrier ranking.
type Ranker interface {
	Rank() []verification.RankEntry
}

// New builds the balancer for kind over the ordered carrier ids. ranker is
// required for KindBest.
func New(kind Kind, ids []string, ranker Ranker) (Balancer, error) {
	switch kind {
	case KindRoundRobin:
		return NewRoundRobin(ids), nil
	case KindBest:
		if ranker == nil {
			return nil, errors.New("best balancer requires a ranker")
		}
		return NewBest(ids, ranker), nil
	default:
		return nil, fmt.Errorf("unknown balancer kind %q", kind)
	}
}

// RoundRobin cycles through carriers in registration order starting at index 0.
type RoundRobin struct {
	ids    []string
	cursor atomic.Uint64
}

// NewRoundRobin creates a RoundRobin over a copy of ids.
func NewRoundRobin(ids []string) *RoundRobin {
	return &RoundRobin{ids: append([]string(nil), ids...)}
}

func (r *RoundRobin) Select() (string, error) {
	n := uint64(len(r.ids))
	if n == 0 {
		return "", ErrNoProviders
	}
	return r.ids[(r.cursor.Add(1)-1)%n], nil
}

// Best picks the carrier with the lowest current score and rotates among
// carriers tied for the lead. Carriers absent from the ranking score 0.
type Best struct {
	ids    []string
	ranker Ranker
	cursor atomic.Uint64
}

// NewBest creates a Best balancer over a copy of ids.
func NewBest(ids []string, ranker Ranker) *Best {
	return &Best{ids: append([]string(nil), ids...), ranker: ranker}
}

func (b *Best) Select() (string, error) {
	if len(b.ids) == 0 {
		return "", ErrNoProviders
	}

	scores := make(map[string]float64, len(b.ids))
	for _, e := range b.ranker.Rank() {
		scores[e.Carrier] = e.Score
	}

	leaders := make([]string, 0, len(b.ids))
	var best float64
	for _, id := range b.ids {
		s := scores[id]
		switch {
		case len(leaders) == 0 || s < best:
			best = s
			leaders = append(leaders[:0], id)
		case s == best:
			leaders = append(leaders, id)
		}
	}
	return leaders[(b.cursor.Add(1)-1)%uint64(len(leaders))], nil
}
