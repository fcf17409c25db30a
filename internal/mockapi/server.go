package mockapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/eventbrite-sync/internal/eventbrite"
)

// Server exposes HTTP APIs that mimic the Eventbrite owned_events listing,
// plus admin routes for seeding the catalogue.
type Server struct {
	store  *Store
	logger *slog.Logger
}

// NewServer builds a server backed by the provided store.
func NewServer(store *Store, logger *slog.Logger) *Server {
	return &Server{store: store, logger: logger}
}

// Router wires all mock routes under a single chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/tokens", s.handleCreateToken)
		r.Post("/events", s.handleCreateEvent)
		r.Post("/events/random", s.handleRandomEvent)
		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/", s.handleGetEvent)
			r.Delete("/", s.handleDeleteEvent)
			r.Post("/status", s.handleSetEventStatus)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/v3/users/me/owned_events", s.handleOwnedEvents)
		r.Get("/v3/users/me/owned_events/", s.handleOwnedEvents)
	})

	return r
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	token, err := s.store.CreateToken(r.Context(), payload.Label)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.logger.Info("token issued", "label", token.Label)
	writeJSON(w, http.StatusCreated, token)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Timezone    string `json:"timezone"`
		Start       string `json:"start"`
		End         string `json:"end"`
		Capacity    *int   `json:"capacity"`
		Status      string `json:"status"`
		Currency    string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	start, err := parseTime(payload.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: %v", err)
		return
	}
	end, err := parseTime(payload.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end: %v", err)
		return
	}
	ev, err := s.store.CreateEvent(r.Context(), Event{
		ID:              payload.ID,
		Name:            payload.Name,
		DescriptionHTML: payload.Description,
		Timezone:        payload.Timezone,
		StartUTC:        start,
		EndUTC:          end,
		Capacity:        payload.Capacity,
		Status:          payload.Status,
		Currency:        payload.Currency,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.logger.Info("event created", "event_id", ev.ID, "status", ev.Status)
	writeJSON(w, http.StatusCreated, MarshalEvent(ev))
}

func (s *Server) handleRandomEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.CreateRandomEvent(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.logger.Info("random event created", "event_id", ev.ID, "name", ev.Name)
	writeJSON(w, http.StatusCreated, MarshalEvent(ev))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		handleNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MarshalEvent(ev))
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if err := s.store.DeleteEvent(r.Context(), eventID); err != nil {
		handleNotFound(w, err)
		return
	}
	s.logger.Info("event deleted", "event_id", eventID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEventStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	ev, err := s.store.SetEventStatus(r.Context(), chi.URLParam(r, "eventID"), payload.Status)
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		handleNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MarshalEvent(ev))
}

// handleOwnedEvents serves GET /v3/users/me/owned_events/ with the status
// (comma separated), order_by (start_asc|start_desc), page and page_size
// query parameters.
func (s *Server) handleOwnedEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var statuses []string
	for _, st := range strings.Split(q.Get("status"), ",") {
		st = strings.TrimSpace(st)
		if st == "" || st == "all" {
			continue
		}
		if !knownStatuses[st] {
			writeAPIError(w, http.StatusBadRequest, "ARGUMENTS_ERROR", fmt.Sprintf("unknown status %q", st))
			return
		}
		statuses = append(statuses, st)
	}
	var startDesc bool
	switch q.Get("order_by") {
	case "", "start_asc":
	case "start_desc":
		startDesc = true
	default:
		writeAPIError(w, http.StatusBadRequest, "ARGUMENTS_ERROR", "order_by must be start_asc or start_desc")
		return
	}
	page, size := parsePaging(r)

	result, err := s.store.ListEvents(r.Context(), statuses, startDesc, page, size)
	if err != nil {
		s.logger.Error("list owned events failed", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	events := make([]eventbrite.Event, 0, len(result.Events))
	for _, ev := range result.Events {
		events = append(events, MarshalEvent(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pagination": result.Pagination,
		"events":     events,
	})
}

// requireToken accepts "Authorization: Bearer <token>" or the ?token= query
// parameter, as the real API does.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			writeAPIError(w, http.StatusUnauthorized, "NO_AUTH", "An OAuth token is required for all requests")
			return
		}
		ok, err := s.store.ValidateToken(r.Context(), token)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		if !ok {
			writeAPIError(w, http.StatusUnauthorized, "INVALID_AUTH", "The OAuth token you provided was invalid.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parsePaging(r *http.Request) (int, int) {
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	size := parseIntDefault(r.URL.Query().Get("page_size"), defaultPageSize)
	return EnsurePageSize(page, size)
}

func parseIntDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	formats := []string{time.RFC3339, wireLayout, "2006-01-02 15:04:05", "2006-01-02"}
	for _, format := range formats {
		if ts, err := time.Parse(format, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.New("invalid time format, use RFC3339 or YYYY-MM-DD")
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

// writeAPIError uses the Eventbrite error envelope on the /v3 routes.
func writeAPIError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]any{
		"status_code":       status,
		"error":             code,
		"error_description": description,
	})
}

func handleNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "%v", err)
}
