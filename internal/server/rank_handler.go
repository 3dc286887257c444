package server

import (
	"net/http"
	"time"

	"github.com/telecomverify/telecom/internal/httputil"
	"github.com/telecomverify/telecom/internal/verification"
)

type rankResponse struct {
	Rank []verification.RankEntry `json:"rank"`
}

// handleRank returns the carrier ranking, optionally restricted to attempts
// within ?window= (a Go duration such as "5m").
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	repo := s.dispatcher.Repo()
	window := r.URL.Query().Get("window")
	if window == "" {
		httputil.WriteJSON(w, http.StatusOK, rankResponse{Rank: repo.Rank()})
		return
	}

	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "window must be a positive duration like 5m")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rankResponse{Rank: repo.RankWithin(d)})
}

type carrierStats struct {
	verification.CarrierStats
	SinceLastFailureMs *int64 `json:"since_last_failure_ms,omitempty"`
}

// handleStats returns per-carrier aggregates.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	repo := s.dispatcher.Repo()
	stats := repo.Stats()

	out := make([]carrierStats, 0, len(stats))
	total := 0
	for _, st := range stats {
		cs := carrierStats{CarrierStats: st}
		if d, ok := repo.TimeSinceLastFailure(st.Carrier); ok {
			ms := d.Milliseconds()
			cs.SinceLastFailureMs = &ms
		}
		total += st.TotalAttempts
		out = append(out, cs)
	}

	resp := map[string]any{
		"carriers":       out,
		"total_attempts": total,
		"scoring":        repo.Scoring(),
	}
	if repo.Scoring() == verification.ScoreWeighted {
		resp["step_weights"] = repo.StepWeights()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleCarriers lists the configured carriers in balancer order.
func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"carriers": s.dispatcher.Providers(),
		"balancer": s.cfg.Balancer.Kind,
		"channel":  s.dispatcher.Channel(),
		"escalate": s.dispatcher.Escalating(),
	})
}
