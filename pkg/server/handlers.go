package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"quotahq/gatekeeper/pkg/quota"
	"quotahq/gatekeeper/pkg/quota/resolver"
	"quotahq/gatekeeper/pkg/quota/stats"
)

// checkRequest is the body of POST /v1/check.
type checkRequest struct {
	CredentialID string `json:"credential_id"`
	SubIdentity  string `json:"sub_identity,omitempty"`
	Endpoint     string `json:"endpoint"`
	Class        string `json:"class,omitempty"`
}

// checkResponse is the body of a completed admission check.
type checkResponse struct {
	Allowed    bool   `json:"allowed"`
	Remaining  int64  `json:"remaining"`
	RetryAfter int64  `json:"retry_after,omitempty"`
	Scope      string `json:"scope"`
}

// resetRequest is the body of POST /v1/reset.
type resetRequest struct {
	CredentialID string `json:"credential_id"`
}

// resetResponse reports how many counters a reset cleared.
type resetResponse struct {
	Cleared int `json:"cleared"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// checkHandler runs admission checks.
type checkHandler struct {
	engine   *quota.Engine
	resolver resolver.Resolver
	logger   *slog.Logger
}

func (h *checkHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	class, err := parseClass(req.Class)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subIdentity := req.SubIdentity
	if class == quota.ClassIP && subIdentity == "" {
		// Fall back to the connection's source address.
		if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
			subIdentity = host
		} else {
			subIdentity = r.RemoteAddr
		}
	}

	quotaCfg, err := h.resolver.Resolve(r.Context(), req.CredentialID)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrInvalidCredential):
			writeError(w, http.StatusUnauthorized, "unknown credential")
		case errors.Is(err, resolver.ErrInactiveCredential):
			writeError(w, http.StatusForbidden, "credential is inactive")
		default:
			h.logger.ErrorContext(r.Context(), "credential resolution failed",
				"credential_id", req.CredentialID,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "credential resolution failed")
		}
		return
	}

	scope, err := quota.NewScopeKey(req.CredentialID, subIdentity, req.Endpoint, class)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Check(r.Context(), scope, quotaCfg)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "admission check failed",
			"scope", scope.String(),
			"request_id", getRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "admission check unavailable")
		return
	}

	resp := checkResponse{
		Allowed:    result.Allowed,
		Remaining:  result.Remaining,
		RetryAfter: result.RetryAfter,
		Scope:      scope.String(),
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	if result.Allowed {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	w.Header().Set("Retry-After", strconv.FormatInt(result.RetryAfter, 10))
	writeJSON(w, http.StatusTooManyRequests, resp)
}

// statsHandler serves per-credential usage statistics.
type statsHandler struct {
	aggregator *stats.Aggregator
	logger     *slog.Logger
}

func (h *statsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	credentialID := r.URL.Query().Get("credential_id")
	if credentialID == "" {
		writeError(w, http.StatusBadRequest, "credential_id is required")
		return
	}

	opts := stats.Options{
		SubIdentity: r.URL.Query().Get("sub_identity"),
		Endpoint:    r.URL.Query().Get("endpoint"),
	}
	if raw := r.URL.Query().Get("lookback"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid lookback duration")
			return
		}
		opts.Lookback = d
	}

	usage, err := h.aggregator.Usage(r.Context(), credentialID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "usage query failed",
			"credential_id", credentialID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "usage query failed")
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

// systemHandler serves service-wide statistics.
type systemHandler struct {
	aggregator *stats.Aggregator
	logger     *slog.Logger
}

func (h *systemHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var lookback time.Duration
	if raw := r.URL.Query().Get("lookback"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid lookback duration")
			return
		}
		lookback = d
	}

	usage, err := h.aggregator.System(r.Context(), lookback)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "system query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "system query failed")
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

// resetHandler clears the counters for one credential.
type resetHandler struct {
	engine *quota.Engine
	logger *slog.Logger
}

func (h *resetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CredentialID == "" {
		writeError(w, http.StatusBadRequest, "credential_id is required")
		return
	}

	cleared, err := h.engine.Reset(r.Context(), req.CredentialID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "counter reset failed",
			"credential_id", req.CredentialID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "counter reset failed")
		return
	}

	h.logger.InfoContext(r.Context(), "counters reset",
		"credential_id", req.CredentialID,
		"cleared", cleared,
	)
	writeJSON(w, http.StatusOK, resetResponse{Cleared: cleared})
}

// healthHandler is the liveness probe.
type healthHandler struct{}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseClass(raw string) (quota.ScopeClass, error) {
	switch raw {
	case "", string(quota.ClassUser):
		return quota.ClassUser, nil
	case string(quota.ClassIP):
		return quota.ClassIP, nil
	case string(quota.ClassGlobal):
		return quota.ClassGlobal, nil
	default:
		return "", quota.ErrInvalidScope
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
