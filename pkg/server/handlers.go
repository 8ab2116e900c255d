package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

// CheckRequest is the body of POST /v1/admission/check. Address and
// Tenant default to the values extracted from the HTTP request.
type CheckRequest struct {
	UserID    string `json:"user_id"`
	Address   string `json:"address"`
	Tenant    string `json:"tenant"`
	Operation string `json:"operation"`
	Tier      string `json:"tier"`
}

// SlidingWindowRequest is the body of POST /v1/admission/sliding-window.
type SlidingWindowRequest struct {
	Key           string `json:"key"`
	WindowMinutes int    `json:"window_minutes"`
	MaxRequests   int    `json:"max_requests"`
}

// CostRequest is the body of POST /v1/admission/cost.
type CostRequest struct {
	UserID    string `json:"user_id"`
	Address   string `json:"address"`
	Tenant    string `json:"tenant"`
	Operation string `json:"operation"`
	Cost      int64  `json:"cost"`
}

// ProgressiveRequest is the body of POST /v1/admission/progressive.
type ProgressiveRequest struct {
	UserID     string `json:"user_id"`
	Operation  string `json:"operation"`
	TrustLevel int    `json:"trust_level"`
}

// QuotaRequest is the body of POST /v1/quota/check.
type QuotaRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
	Tier     string `json:"tier"`
}

// decodeJSON reads a single JSON object from r into dst. It writes the
// error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, ErrorTypeInvalidRequest,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), "")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "request body is required", "")
	default:
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "invalid JSON: "+err.Error(), "")
	}
	return false
}

// identityFor fills the address and tenant the body left out from the
// HTTP request.
func (s *Server) identityFor(r *http.Request, userID, address, tenant string) limits.Identity {
	id := limits.Identity{
		UserID:  strings.TrimSpace(userID),
		Address: strings.TrimSpace(address),
		Tenant:  strings.TrimSpace(tenant),
	}
	if id.Address == "" {
		id.Address = ClientAddress(r, s.cfg.Server.TrustProxyHeaders)
	}
	if id.Tenant == "" {
		id.Tenant = TenantID(r)
	}
	return id
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := s.identityFor(r, req.UserID, req.Address, req.Tenant)
	ctx := withCaller(r.Context(), id, req.Operation)

	writeDecision(w, s.engine.CheckAdmission(ctx, id, req.Operation, tiers.Tier(req.Tier)))
}

func (s *Server) handleSlidingWindow(w http.ResponseWriter, r *http.Request) {
	var req SlidingWindowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeDecision(w, s.engine.CheckSlidingWindow(r.Context(), req.Key, req.WindowMinutes, req.MaxRequests))
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	var req CostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := s.identityFor(r, req.UserID, req.Address, req.Tenant)
	ctx := withCaller(r.Context(), id, req.Operation)

	writeDecision(w, s.engine.CheckCostBased(ctx, id, req.Operation, req.Cost))
}

func (s *Server) handleProgressive(w http.ResponseWriter, r *http.Request) {
	var req ProgressiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeDecision(w, s.engine.CheckProgressive(r.Context(), req.UserID, req.Operation, req.TrustLevel))
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	var req QuotaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "client_id is required", "client_id")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "api_key is required", "api_key")
		return
	}

	status := s.engine.CheckQuota(r.Context(), req.ClientID, req.APIKey, tiers.Tier(req.Tier))
	code := http.StatusOK
	if !status.Allowed {
		code = http.StatusTooManyRequests
	}
	writeJSON(w, code, status)
}
