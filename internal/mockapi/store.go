package mockapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/eventbrite-sync/internal/eventbrite"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Event statuses the owned_events filter understands.
var knownStatuses = map[string]bool{
	"draft": true, "live": true, "started": true, "ended": true, "completed": true, "canceled": true,
}

// ErrInvalidEvent is returned when an event cannot be stored as given.
var ErrInvalidEvent = errors.New("invalid event")

// Store contains the mock organizer's persistence logic.
type Store struct {
	db *sql.DB

	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewStore wires a mock data store backed by SQLite.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Init applies schema migrations for the mock database.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			token TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description_html TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			timezone TEXT NOT NULL,
			start_utc TEXT NOT NULL,
			end_utc TEXT NOT NULL,
			created TEXT NOT NULL,
			changed TEXT NOT NULL,
			capacity INTEGER,
			status TEXT NOT NULL,
			currency TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_status_start ON events(status, start_utc);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply mockapi schema: %w", err)
		}
	}
	return nil
}

// CreateToken issues a new random token.
func (s *Store) CreateToken(ctx context.Context, label string) (Token, error) {
	if strings.TrimSpace(label) == "" {
		return Token{}, errors.New("token label required")
	}
	return s.EnsureToken(ctx, uuid.NewString(), label)
}

// EnsureToken registers a known token, keeping the existing row if present.
func (s *Store) EnsureToken(ctx context.Context, token, label string) (Token, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Token{}, errors.New("token required")
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens(token, label, created_at) VALUES (?, ?, ?) ON CONFLICT(token) DO NOTHING`,
		token, label, now,
	); err != nil {
		return Token{}, fmt.Errorf("insert token: %w", err)
	}
	var t Token
	if err := s.db.QueryRowContext(ctx, `SELECT token, label, created_at FROM tokens WHERE token = ?`, token).
		Scan(&t.Token, &t.Label, &t.CreatedAt); err != nil {
		return Token{}, fmt.Errorf("load token: %w", err)
	}
	return t, nil
}

// ValidateToken reports whether the bearer token is registered.
func (s *Store) ValidateToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens WHERE token = ?`, token).Scan(&n); err != nil {
		return false, fmt.Errorf("validate token: %w", err)
	}
	return n > 0, nil
}

// CreateEvent stores ev, filling the id, url, timestamps and defaults.
func (s *Store) CreateEvent(ctx context.Context, ev Event) (Event, error) {
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return Event{}, fmt.Errorf("%w: name required", ErrInvalidEvent)
	}
	if ev.StartUTC.IsZero() || ev.EndUTC.IsZero() {
		return Event{}, fmt.Errorf("%w: start and end required", ErrInvalidEvent)
	}
	if ev.EndUTC.Before(ev.StartUTC) {
		return Event{}, fmt.Errorf("%w: end before start", ErrInvalidEvent)
	}
	if ev.Status == "" {
		ev.Status = "live"
	}
	if !knownStatuses[ev.Status] {
		return Event{}, fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, ev.Status)
	}
	if ev.Currency == "" {
		ev.Currency = "USD"
	}
	if ev.Timezone == "" {
		ev.Timezone = "UTC"
	}
	if ev.ID == "" {
		ev.ID = s.newEventID()
	}
	if ev.URL == "" {
		ev.URL = "https://www.eventbrite.com/e/" + ev.ID
	}
	now := s.now().Truncate(time.Second)
	ev.Created, ev.Changed = now, now
	ev.StartUTC = ev.StartUTC.UTC().Truncate(time.Second)
	ev.EndUTC = ev.EndUTC.UTC().Truncate(time.Second)

	var capacity sql.NullInt64
	if ev.Capacity != nil {
		capacity = sql.NullInt64{Int64: int64(*ev.Capacity), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, name, description_html, url, timezone, start_utc, end_utc, created, changed, capacity, status, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Name, ev.DescriptionHTML, ev.URL, ev.Timezone,
		ev.StartUTC.Format(wireLayout), ev.EndUTC.Format(wireLayout),
		ev.Created.Format(wireLayout), ev.Changed.Format(wireLayout),
		capacity, ev.Status, ev.Currency,
	); err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// GetEvent fetches an event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// SetEventStatus moves an event to another status and bumps its changed time.
func (s *Store) SetEventStatus(ctx context.Context, id, status string) (Event, error) {
	if !knownStatuses[status] {
		return Event{}, fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE events SET status = ?, changed = ? WHERE id = ?`,
		status, s.now().Format(wireLayout), id)
	if err != nil {
		return Event{}, fmt.Errorf("update event status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Event{}, sql.ErrNoRows
	}
	return s.GetEvent(ctx, id)
}

// DeleteEvent removes an event.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// EnsurePageSize enforces the page size contract.
func EnsurePageSize(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// ListEvents returns one page of events whose status is in statuses (all
// when empty), ordered by start time.
func (s *Store) ListEvents(ctx context.Context, statuses []string, startDesc bool, page, pageSize int) (EventPage, error) {
	page, pageSize = EnsurePageSize(page, pageSize)
	var (
		clauses []string
		args    []any
	)
	if len(statuses) > 0 {
		marks := make([]string, 0, len(statuses))
		for _, st := range statuses {
			marks = append(marks, "?")
			args = append(args, st)
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	where := "1 = 1"
	if len(clauses) > 0 {
		where = strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM events WHERE %s`, where), args...).Scan(&total); err != nil {
		return EventPage{}, fmt.Errorf("count events: %w", err)
	}

	order := "start_utc ASC, id ASC"
	if startDesc {
		order = "start_utc DESC, id DESC"
	}
	offset := (page - 1) * pageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY %s LIMIT ? OFFSET ?`, eventColumns, where, order)
	rows, err := s.db.QueryContext(ctx, dataQuery, append(append([]any{}, args...), pageSize, offset)...)
	if err != nil {
		return EventPage{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, pageSize)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return EventPage{}, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return EventPage{}, fmt.Errorf("iter events: %w", err)
	}

	pageCount := (total + pageSize - 1) / pageSize
	if pageCount == 0 {
		pageCount = 1
	}
	return EventPage{
		Events: events,
		Pagination: Pagination{
			ObjectCount:  total,
			PageNumber:   page,
			PageSize:     pageSize,
			PageCount:    pageCount,
			HasMoreItems: offset+len(events) < total,
		},
	}, nil
}

var (
	eventTopics = []string{"Go Meetup", "Design Sprint", "Data Night", "Open Source Saturday", "Community Lunch", "Product Demo Day"}
	eventCities = []string{"Seoul", "Berlin", "Lisbon", "Austin", "Toronto", "Osaka"}
	currencies  = []string{"USD", "EUR", "KRW", "JPY"}
)

// CreateRandomEvent seeds a live event starting within the next two months.
// Roughly one in five has no capacity limit.
func (s *Store) CreateRandomEvent(ctx context.Context) (Event, error) {
	s.mu.Lock()
	topic := eventTopics[s.rnd.Intn(len(eventTopics))]
	city := eventCities[s.rnd.Intn(len(eventCities))]
	start := s.now().Add(time.Duration(1+s.rnd.Intn(60*24)) * time.Hour).Truncate(time.Hour)
	length := time.Duration(1+s.rnd.Intn(4)) * time.Hour
	currency := currencies[s.rnd.Intn(len(currencies))]
	var capacity *int
	if s.rnd.Intn(5) > 0 {
		n := 10 * (1 + s.rnd.Intn(50))
		capacity = &n
	}
	s.mu.Unlock()

	name := fmt.Sprintf("%s %s", city, topic)
	return s.CreateEvent(ctx, Event{
		Name:            name,
		DescriptionHTML: fmt.Sprintf("<p>Join us for <strong>%s</strong> in %s.</p>", topic, city),
		StartUTC:        start,
		EndUTC:          start.Add(length),
		Capacity:        capacity,
		Status:          "live",
		Currency:        currency,
	})
}

func (s *Store) newEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strconv.FormatInt(100000000000+s.rnd.Int63n(900000000000), 10)
}

const eventColumns = `id, name, description_html, url, timezone, start_utc, end_utc, created, changed, capacity, status, currency`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		ev                           Event
		start, end, created, changed string
		capacity                     sql.NullInt64
	)
	if err := row.Scan(&ev.ID, &ev.Name, &ev.DescriptionHTML, &ev.URL, &ev.Timezone,
		&start, &end, &created, &changed, &capacity, &ev.Status, &ev.Currency); err != nil {
		return Event{}, err
	}
	ev.StartUTC, _ = time.Parse(wireLayout, start)
	ev.EndUTC, _ = time.Parse(wireLayout, end)
	ev.Created, _ = time.Parse(wireLayout, created)
	ev.Changed, _ = time.Parse(wireLayout, changed)
	if capacity.Valid {
		n := int(capacity.Int64)
		ev.Capacity = &n
	}
	return ev, nil
}

// MarshalEvent renders an event in the Eventbrite wire shape.
func MarshalEvent(ev Event) eventbrite.Event {
	local := func(t time.Time) string {
		loc, err := time.LoadLocation(ev.Timezone)
		if err != nil {
			loc = time.UTC
		}
		return t.In(loc).Format("2006-01-02T15:04:05")
	}
	return eventbrite.Event{
		ID:          ev.ID,
		Name:        eventbrite.Text{Text: ev.Name, HTML: ev.Name},
		Description: eventbrite.Text{Text: eventbrite.StripTags(ev.DescriptionHTML), HTML: ev.DescriptionHTML},
		URL:         ev.URL,
		Start:       eventbrite.DateTime{Timezone: ev.Timezone, Local: local(ev.StartUTC), UTC: ev.StartUTC.Format(wireLayout)},
		End:         eventbrite.DateTime{Timezone: ev.Timezone, Local: local(ev.EndUTC), UTC: ev.EndUTC.Format(wireLayout)},
		Created:     ev.Created.Format(wireLayout),
		Changed:     ev.Changed.Format(wireLayout),
		Capacity:    ev.Capacity,
		Status:      ev.Status,
		Currency:    ev.Currency,
	}
}
