package verification

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Scoring names the function that turns CarrierStats into a rank score.
// Lower scores rank better.
type Scoring string

const (
	// ScoreCount scores a carrier by its raw failure count.
	ScoreCount Scoring = "count"
	// ScoreRate scores a carrier by failures / total attempts.
	ScoreRate Scoring = "rate"
	// ScoreWeighted scores a carrier by the mean step weight of its attempts.
	ScoreWeighted Scoring = "weighted"
)

// ParseScoring accepts "count", "rate" or "weighted". Empty selects ScoreCount.
func ParseScoring(s string) (Scoring, error) {
	switch Scoring(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScoreCount:
		return ScoreCount, nil
	case ScoreRate:
		return ScoreRate, nil
	case ScoreWeighted:
		return ScoreWeighted, nil
	default:
		return "", fmt.Errorf("unknown scoring %q (supported: count, rate, weighted)", s)
	}
}

func (sc Scoring) score(s CarrierStats, w StepWeights) float64 {
	switch sc {
	case ScoreRate:
		if s.TotalAttempts == 0 {
			return 0
		}
		return float64(s.Failures) / float64(s.TotalAttempts)
	case ScoreWeighted:
		if s.TotalAttempts == 0 {
			return 0
		}
		var sum float64
		for step, n := range s.Steps {
			sum += w.Of(step) * float64(n)
		}
		return sum / float64(s.TotalAttempts)
	default:
		return float64(s.Failures)
	}
}

// RankEntry is one carrier's position in a ranking.
type RankEntry struct {
	Carrier string
	Score   float64
}

// MarshalJSON renders the entry as a [carrier, score] pair.
func (e RankEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Carrier, e.Score})
}

// UnmarshalJSON parses a [carrier, score] pair.
func (e *RankEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("rank entry: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Carrier); err != nil {
		return fmt.Errorf("rank entry carrier: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Score); err != nil {
		return fmt.Errorf("rank entry score: %w", err)
	}
	return nil
}
