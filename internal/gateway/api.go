// ABOUTME: HTTP handlers for health checks and the operator admin API
// ABOUTME: Lists and ends live sessions and queries the audit ledger

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bitsacco/sacco-gateway/internal/auth"
	"github.com/bitsacco/sacco-gateway/internal/store"
)

// readyTimeout bounds the wallet ping in the readiness check.
const readyTimeout = 3 * time.Second

// SessionResponse describes one live session. It never includes history,
// phone numbers or account IDs.
type SessionResponse struct {
	UserID       string    `json:"user_id"`
	Channel      string    `json:"channel"`
	State        string    `json:"state"`
	LastActivity time.Time `json:"last_activity"`
	Version      uint64    `json:"version"`
}

// ListSessionsResponse is the JSON response for GET /api/sessions.
// Sessions in the middle of a turn are counted in Total but not listed.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

// AuditEntryResponse is one audit ledger entry.
type AuditEntryResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Channel   string         `json:"channel"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// ReadyResponse is the JSON response for GET /health/ready.
type ReadyResponse struct {
	Status    string   `json:"status"`
	Wallet    string   `json:"wallet"`
	Sessions  int      `json:"sessions"`
	Frontends []string `json:"frontends"`
	Uptime    string   `json:"uptime"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the wallet backend answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := ReadyResponse{
		Status:    "ready",
		Wallet:    "ok",
		Sessions:  g.sessions.Count(),
		Frontends: g.engine.Adapters(),
		Uptime:    time.Since(g.startedAt).Round(time.Second).String(),
	}
	status := http.StatusOK
	if err := g.wallet.Health(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		resp.Status = "unavailable"
		resp.Wallet = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleListSessions returns idle sessions, most recently active first.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := g.sessions.Snapshot()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivity.After(infos[j].LastActivity)
	})

	resp := ListSessionsResponse{
		Sessions: make([]SessionResponse, 0, len(infos)),
		Total:    g.sessions.Count(),
	}
	for _, info := range infos {
		resp.Sessions = append(resp.Sessions, SessionResponse{
			UserID:       info.UserID,
			Channel:      info.Channel,
			State:        string(info.State),
			LastActivity: info.LastActivity,
			Version:      info.Version,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEndSession signs a user out, waiting for any turn in progress.
func (g *Gateway) handleEndSession(w http.ResponseWriter, r *http.Request) {
	userID, err := url.PathUnescape(chi.URLParam(r, "userID"))
	if err != nil || userID == "" {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	s, ok := g.sessions.Get(userID)
	if !ok || !g.sessions.Delete(userID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	operator := ""
	if c := auth.FromContext(r.Context()); c != nil {
		operator = c.Subject
	}
	entry := &store.AuditEntry{
		UserID:  userID,
		Channel: s.Channel,
		Action:  store.AuditSessionEnded,
		Detail:  map[string]any{"operator": operator, "state": string(s.State)},
	}
	if err := g.store.AppendAuditLog(r.Context(), entry); err != nil {
		g.logger.Warn("failed to record session end", "user_id", userID, "error", err)
	}
	g.logger.Info("session ended by operator", "user_id", userID, "operator", operator)
	w.WriteHeader(http.StatusNoContent)
}

// parseAuditFilter reads user_id, action, since (RFC 3339) and limit.
func parseAuditFilter(q url.Values) (store.AuditFilter, error) {
	var f store.AuditFilter
	if v := q.Get("user_id"); v != "" {
		f.UserID = &v
	}
	if v := q.Get("action"); v != "" {
		a := store.AuditAction(v)
		f.Action = &a
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

// handleAudit returns audit entries matching the query, newest first.
func (g *Gateway) handleAudit(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := g.store.ListAuditLog(r.Context(), f)
	if err != nil {
		g.logger.Error("failed to list audit log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	resp := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, AuditEntryResponse{
			ID:        e.ID,
			UserID:    e.UserID,
			Channel:   e.Channel,
			Action:    string(e.Action),
			Timestamp: e.Timestamp,
			Detail:    e.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": resp})
}

// handleWebhook routes a signed inbound post to its channel's adapter.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	a, ok := g.webhooks[chi.URLParam(r, "channel")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	a.ServeHTTP(w, r)
}
