package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/eventbrite-sync/internal/content"
	"example.com/eventbrite-sync/internal/reconcile"
)

// manualSyncTimeout bounds a sync triggered from the HTTP API.
const manualSyncTimeout = 5 * time.Minute

// displayLayout renders event times on the details view.
const displayLayout = "January 2, 2006 3:04 PM MST"

// PostStore is the read/admin side of the content store the API needs.
type PostStore interface {
	ListPosts(ctx context.Context, postType, status string, limit int) ([]content.Post, error)
	GetPost(ctx context.Context, id int64) (content.Post, error)
	SetStatus(ctx context.Context, id int64, status string) error
}

// Server exposes the manual sync trigger, mirrored record browsing, and the
// admin status switch.
type Server struct {
	store        PostStore
	orchestrator Orchestrator
	metrics      *Metrics
	postType     string
	logger       *slog.Logger
}

// NewServer creates a sync server with the required collaborators wired in.
func NewServer(store PostStore, orchestrator Orchestrator, metrics *Metrics, postType string, logger *slog.Logger) *Server {
	return &Server{
		store:        store,
		orchestrator: orchestrator,
		metrics:      metrics,
		postType:     postType,
		logger:       logger,
	}
}

// Router configures all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// Manual trigger. GET is kept so a plain dashboard link can start a run.
	r.Get("/api-sync-events", s.handleSync)
	r.Post("/api-sync-events", s.handleSync)

	r.Get("/events", s.handleListEvents)
	r.Get("/events/{postID}", s.handleGetEvent)

	r.Route("/admin/events/{postID}", func(r chi.Router) {
		r.Get("/", s.handleGetEvent)
		r.Post("/status", s.handleSetStatus)
	})
	return r
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "sync orchestrator not configured")
		return
	}
	// A run outlives the request: closing the dashboard tab must not leave the
	// mirror half applied.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), manualSyncTimeout)
	defer cancel()

	outcome, err := s.orchestrator.RunSync(ctx, SyncInput{Reason: "api-sync-events"})
	if errors.Is(err, reconcile.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, "a sync run is already in progress")
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
		s.logger.Error("manual sync failed", "workflow_id", outcome.WorkflowID, "error", err)
	} else {
		s.logger.Info("manual sync completed", "workflow_id", outcome.WorkflowID, "run_id", outcome.RunID)
	}
	payload := map[string]any{
		"ok":           err == nil,
		"workflow_id":  outcome.WorkflowID,
		"run_id":       outcome.RunID,
		"started_at":   outcome.StartedAt.Format(time.RFC3339Nano),
		"completed_at": outcome.CompletedAt.Format(time.RFC3339Nano),
		"synced":       outcome.Result,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
	posts, err := s.store.ListPosts(r.Context(), s.postType, status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events: %v", err)
		return
	}
	views := make([]eventView, 0, len(posts))
	for _, p := range posts {
		views = append(views, newEventView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": views,
		"count":  len(views),
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newEventView(post))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	switch payload.Status {
	case content.StatusPublish, content.StatusUnpublished:
	default:
		writeError(w, http.StatusBadRequest, "status must be %q or %q", content.StatusPublish, content.StatusUnpublished)
		return
	}
	if err := s.store.SetStatus(r.Context(), post.ID, payload.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "set status: %v", err)
		return
	}
	s.logger.Info("event status changed", "post_id", post.ID, "from", post.Status, "to", payload.Status)
	post.Status = payload.Status
	writeJSON(w, http.StatusOK, newEventView(post))
}

func (s *Server) loadPost(w http.ResponseWriter, r *http.Request) (content.Post, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "postID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "post id must be a positive integer")
		return content.Post{}, false
	}
	post, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return content.Post{}, false
		}
		writeError(w, http.StatusInternalServerError, "load event: %v", err)
		return content.Post{}, false
	}
	if post.Type != s.postType || post.Status == content.StatusTrash {
		writeError(w, http.StatusNotFound, "event not found")
		return content.Post{}, false
	}
	return post, true
}

// eventView is the details view of a mirrored record.
type eventView struct {
	ID           int64             `json:"id"`
	Title        string            `json:"title"`
	Status       string            `json:"status"`
	EventbriteID string            `json:"eventbrite_id"`
	URL          string            `json:"eventbrite_url"`
	Description  string            `json:"description"`
	Start        string            `json:"start"`
	End          string            `json:"end"`
	EditURL      string            `json:"request_url,omitempty"`
	ModifiedAt   time.Time         `json:"modified_at"`
	Meta         map[string]string `json:"meta"`
}

func newEventView(p content.Post) eventView {
	return eventView{
		ID:           p.ID,
		Title:        p.Title,
		Status:       p.Status,
		EventbriteID: p.Meta[reconcile.MetaID],
		URL:          p.Meta[reconcile.MetaURL],
		Description:  p.Meta[reconcile.MetaDescription],
		Start:        formatDateTime(p.Meta[reconcile.MetaStart]),
		End:          formatDateTime(p.Meta[reconcile.MetaEnd]),
		EditURL:      p.Meta[reconcile.MetaRequestURL],
		ModifiedAt:   p.ModifiedAt,
		Meta:         p.Meta,
	}
}

// formatDateTime renders a normalized timestamp for people, falling back to
// the stored value when it does not parse.
func formatDateTime(v string) string {
	if v == "" {
		return ""
	}
	ts, err := reconcile.ParseNormalized(v)
	if err != nil {
		return v
	}
	return ts.Format(displayLayout)
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}
