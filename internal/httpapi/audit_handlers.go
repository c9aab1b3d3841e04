package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"graindesk.io/internal/audit"
)

func (a *API) handleAuditCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
		return
	}
	skip, err := parsePositiveInt(q.Get("skip"), 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "skip "+err.Error())
		return
	}

	filter := audit.Filter{
		UserID:       strings.TrimSpace(q.Get("user_id")),
		Module:       strings.TrimSpace(q.Get("module")),
		Action:       audit.Action(strings.TrimSpace(q.Get("action"))),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		Limit:        limit,
		Skip:         skip,
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		filter.From = ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		filter.To = ts
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		writeError(w, r, http.StatusBadRequest, "to must not precede from")
		return
	}

	page, err := a.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not query audit log")
		return
	}
	writeData(w, http.StatusOK, page)
}

// handleAuditStream pushes newly recorded entries over server-sent events.
func (a *API) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	entries := a.feed.Subscribe(r.Context())
	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case entry, open := <-entries:
			if !open {
				return
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: audit\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// handleAuditResource serves /v1/audit/stats, /v1/audit/filters and
// /v1/audit/users/{id}.
func (a *API) handleAuditResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/audit/")
	switch {
	case rest == "stats":
		stats, err := a.audit.Stats(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "could not compute audit stats")
			return
		}
		writeData(w, http.StatusOK, stats)

	case rest == "filters":
		filters, err := a.audit.Filters(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "could not list audit filters")
			return
		}
		writeData(w, http.StatusOK, filters)

	case strings.HasPrefix(rest, "users/"):
		userID := strings.TrimPrefix(rest, "users/")
		if userID == "" || strings.Contains(userID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		q := r.URL.Query()
		limit, err := parsePositiveInt(q.Get("limit"), 50, 1, 1000)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
			return
		}
		skip, err := parsePositiveInt(q.Get("skip"), 0, 0, 1<<30)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "skip "+err.Error())
			return
		}
		page, err := a.audit.UserActivity(r.Context(), userID, limit, skip)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "could not load user activity")
			return
		}
		writeData(w, http.StatusOK, page)

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
