package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/telecomverify/telecom/internal/dispatch"
	"github.com/telecomverify/telecom/internal/httputil"
	"github.com/telecomverify/telecom/internal/provider"
)

// errVerificationUnsuccessful is the body error of a failed attempt.
const errVerificationUnsuccessful = "verification unsuccessful"

type verifyRequest struct {
	Number string `json:"number" validate:"required,max=32"`
	Time   int64  `json:"time" validate:"gte=0"`
}

// verifyResponse carries the outcome. A provider failure is a normal
// response with Error set, not an HTTP error.
type verifyResponse struct {
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	Outcome   string     `json:"outcome"`
	Reason    string     `json:"reason,omitempty"`
	Carrier   string     `json:"carrier"`
	Channel   string     `json:"channel"`
	Step      string     `json:"step"`
	AttemptID string     `json:"attempt_id"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	out, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{Number: req.Number, Time: req.Time})
	switch {
	case errors.Is(err, provider.ErrInvalidPhoneNumber):
		httputil.WriteFieldError(w, http.StatusBadRequest, "validation failed",
			"number", "invalid_phone", "number must be a valid phone number in international format")
		return
	case errors.Is(err, dispatch.ErrCountryNotAllowed):
		httputil.WriteError(w, http.StatusForbidden, "phone number country not allowed")
		return
	case errors.Is(err, dispatch.ErrNoProvidersAvailable):
		httputil.WriteError(w, http.StatusServiceUnavailable, "no carriers found")
		return
	case err != nil && out == nil:
		s.logger.Error("dispatch failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	case err != nil:
		// Attempt recorded, token could not be signed.
		s.logger.Error("issuing verification token", "error", err, "attempt_id", out.Attempt.ID)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a := out.Attempt
	resp := verifyResponse{
		Outcome:   string(a.Outcome),
		Reason:    string(a.Reason),
		Carrier:   a.Carrier,
		Channel:   string(a.Channel),
		Step:      string(a.Step),
		AttemptID: a.ID,
	}
	if out.Success() {
		resp.Token = out.Token
		if !out.ExpiresAt.IsZero() {
			exp := out.ExpiresAt
			resp.ExpiresAt = &exp
		}
	} else {
		resp.Error = errVerificationUnsuccessful
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleToken introspects a verification token passed as a bearer token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		httputil.WriteError(w, http.StatusNotFound, "tokens are not enabled")
		return
	}
	raw, ok := httputil.ExtractBearerToken(r)
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	claims, err := s.tokens.Validate(raw)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	resp := map[string]any{
		"number":  claims.Subject,
		"carrier": claims.Carrier,
		"channel": claims.Channel,
	}
	if claims.ExpiresAt != nil {
		resp["expires_at"] = claims.ExpiresAt.Time
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
