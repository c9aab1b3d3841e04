// Package audit keeps the append-only trail of every action taken or denied
// in the system. Writes are best-effort on purpose: audit unavailability must
// never block a legitimate business operation, so a failed append is counted
// and logged instead of propagated.
package audit

import (
	"context"
	"time"

	"graindesk.io/internal/ids"
	"graindesk.io/internal/obs"
)

// Action enumerates what happened to the resource.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
)

// Entry is an immutable record of one action. OldValues/NewValues hold
// arbitrary structured snapshots; gate denials carry requester metadata.
type Entry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Action       Action         `json:"action"`
	Module       string         `json:"module"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Description  string         `json:"description,omitempty"`
	OldValues    map[string]any `json:"old_values,omitempty"`
	NewValues    map[string]any `json:"new_values,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter narrows system-wide queries. Zero values match everything.
type Filter struct {
	UserID       string
	Module       string
	Action       Action
	ResourceType string
	From         time.Time
	To           time.Time
	Limit        int
	Skip         int
}

// Page is the uniform pagination shape for activity queries, newest-first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	HasMore bool    `json:"has_more"`
}

// Filters lists the distinct values known to the log, for building UI
// filter controls.
type Filters struct {
	Modules       []string `json:"modules"`
	Actions       []string `json:"actions"`
	ResourceTypes []string `json:"resource_types"`
}

// Stats summarizes log volume.
type Stats struct {
	Total     int            `json:"total"`
	Recent    int            `json:"recent"`
	ByModule  map[string]int `json:"by_module"`
	ByAction  map[string]int `json:"by_action"`
}

// Store persists entries. Append-only: nothing updates or deletes rows.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, int, error)
	Filters(ctx context.Context) (Filters, error)
	Stats(ctx context.Context, recentSince time.Time) (Stats, error)
}

// Recorder is the write/read facade handed to the gates and to business
// collaborators.
type Recorder struct {
	store     Store
	now       func() time.Time
	onError   func(error)
	observers []func(Entry)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithErrorHandler overrides what happens to swallowed write errors.
func WithErrorHandler(fn func(error)) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.onError = fn
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store: store,
		now:   time.Now,
		onError: func(err error) {
			obs.CountAuditWriteFailure()
			obs.LogError("audit write failed", err, nil)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers a callback invoked after every successful append. Must be
// called before the Recorder starts serving requests.
func (r *Recorder) Observe(fn func(Entry)) {
	if fn != nil {
		r.observers = append(r.observers, fn)
	}
}

// Record appends an entry. Storage failures are reported through the error
// handler and never returned, so callers cannot be failed by the audit path.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if err := r.store.Append(ctx, &entry); err != nil {
		r.onError(err)
		return
	}
	for _, fn := range r.observers {
		fn(entry)
	}
}

// UserActivity returns one user's entries, newest-first.
func (r *Recorder) UserActivity(ctx context.Context, userID string, limit, skip int) (Page, error) {
	return r.Query(ctx, Filter{UserID: userID, Limit: limit, Skip: skip})
}

// Query returns a system-wide page matching the filter.
func (r *Recorder) Query(ctx context.Context, filter Filter) (Page, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 50
	}
	if filter.Skip < 0 {
		filter.Skip = 0
	}
	entries, total, err := r.store.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Entries: entries,
		Total:   total,
		HasMore: filter.Skip+len(entries) < total,
	}, nil
}

// Filters returns the distinct module/action/resource-type values.
func (r *Recorder) Filters(ctx context.Context) (Filters, error) {
	return r.store.Filters(ctx)
}

// Stats returns total and last-24h counts plus per-module and per-action
// breakdowns.
func (r *Recorder) Stats(ctx context.Context) (Stats, error) {
	return r.store.Stats(ctx, r.now().Add(-24*time.Hour))
}
