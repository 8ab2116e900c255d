package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/enforcement"
)

// WhitelistRequest is the body of POST /v1/admin/whitelist.
type WhitelistRequest struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// BlockRequest is the body of POST /v1/admin/blocks. Duration uses Go
// duration syntax, e.g. "30m". With Tenant set, Identifier names a tenant.
type BlockRequest struct {
	Identifier string `json:"identifier"`
	Tenant     bool   `json:"tenant,omitempty"`
	Duration   string `json:"duration"`
	Reason     string `json:"reason"`
}

// AdjustmentRequest is the body of POST /v1/admin/adjustments.
type AdjustmentRequest struct {
	UserID     string  `json:"user_id"`
	Operation  string  `json:"operation"`
	Multiplier float64 `json:"multiplier"`
	Duration   string  `json:"duration"`
}

// ResetRequest is the body of POST /v1/admin/reset.
type ResetRequest struct {
	UserID    string `json:"user_id"`
	Operation string `json:"operation"`
}

// OperationView is one operation table entry as served by
// GET /v1/admin/operations.
type OperationView struct {
	Name            string `json:"name"`
	LongTermLimit   int64  `json:"long_term_limit"`
	LongTermPeriod  string `json:"long_term_period"`
	ShortTermLimit  int64  `json:"short_term_limit,omitempty"`
	ShortTermPeriod string `json:"short_term_period,omitempty"`
	Burst           int64  `json:"burst"`
}

// requireAdmin rejects requests without the configured bearer token. An
// empty token leaves the admin routes open.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	token := s.cfg.Server.AdminToken
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="turnstile-admin"`)
			writeError(w, http.StatusUnauthorized, ErrorTypeAuthentication, "admin token required", "")
			return
		}
		next(w, r)
	}
}

// writeAdminError maps engine errors to a response.
func writeAdminError(w http.ResponseWriter, err error) {
	var kindErr *enforcement.KindError
	switch {
	case errors.Is(err, limits.ErrValidation), errors.As(err, &kindErr):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error(), "")
	case errors.Is(err, limits.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrorTypeServerError, err.Error(), "")
	default:
		writeError(w, http.StatusInternalServerError, ErrorTypeServerError, err.Error(), "")
	}
}

func parseDuration(w http.ResponseWriter, s string) (time.Duration, bool) {
	d, err := time.ParseDuration(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, "invalid duration: "+err.Error(), "duration")
		return 0, false
	}
	return d, true
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	var req WhitelistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := enforcement.ParseKind(req.Kind)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if err := s.engine.AddToWhitelist(kind, req.Value); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added", "kind": string(kind), "value": req.Value})
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	kind, err := enforcement.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	value := r.PathValue("value")
	if err := s.engine.RemoveFromWhitelist(kind, value); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "kind": string(kind), "value": value})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, ok := parseDuration(w, req.Duration)
	if !ok {
		return
	}
	block := s.engine.Block
	if req.Tenant {
		block = s.engine.BlockTenant
	}
	entity, err := block(r.Context(), req.Identifier, d, enforcement.ParseReason(req.Reason))
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entity)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	lifted := s.engine.Unblock(r.Context(), r.PathValue("identifier"))
	writeJSON(w, http.StatusOK, map[string]bool{"unblocked": lifted})
}

func (s *Server) handleUnblockTenant(w http.ResponseWriter, r *http.Request) {
	lifted := s.engine.UnblockTenant(r.Context(), r.PathValue("tenant"))
	writeJSON(w, http.StatusOK, map[string]bool{"unblocked": lifted})
}

func (s *Server) handleListBlocks(w http.ResponseWriter, _ *http.Request) {
	blocks := s.engine.BlockedEntities()
	if blocks == nil {
		blocks = []enforcement.BlockedEntity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (s *Server) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, ok := parseDuration(w, req.Duration)
	if !ok {
		return
	}
	adj, err := s.engine.ApplyAdjustment(req.UserID, req.Operation, req.Multiplier, d)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adj)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.ResetLimit(r.Context(), req.UserID, req.Operation); err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Statistics())
}

func (s *Server) handleOperations(w http.ResponseWriter, _ *http.Request) {
	table := s.engine.Operations()
	views := make([]OperationView, 0, len(table))
	for name, cfg := range table {
		v := OperationView{
			Name:           name,
			LongTermLimit:  cfg.LongTermLimit,
			LongTermPeriod: cfg.LongTermPeriod.String(),
			ShortTermLimit: cfg.ShortTermLimit,
			Burst:          cfg.Burst,
		}
		if cfg.ShortTermPeriod > 0 {
			v.ShortTermPeriod = cfg.ShortTermPeriod.String()
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"operations": views})
}
