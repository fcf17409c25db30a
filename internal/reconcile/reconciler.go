package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"example.com/eventbrite-sync/internal/content"
	"example.com/eventbrite-sync/internal/eventbrite"
)

// Metadata keys written on mirrored records.
const (
	MetaID          = "eventbrite_id"
	MetaDescription = "eventbrite_description"
	MetaURL         = "eventbrite_url"
	MetaStart       = "eventbrite_start"
	MetaEnd         = "eventbrite_end"
	MetaCreated     = "eventbrite_created"
	MetaChanged     = "eventbrite_changed"
	MetaCapacity    = "eventbrite_capacity"
	MetaStatus      = "eventbrite_status"
	MetaCurrency    = "eventbrite_currency"
	MetaRequestURL  = "request_url"
)

var (
	// ErrFetch marks a run whose remote fetch failed after expiry was applied.
	ErrFetch = errors.New("fetch remote events")
	// ErrSyncInProgress is returned when Sync is called while a run is active.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Store is the slice of the content store the reconciler writes through.
type Store interface {
	FindByMeta(ctx context.Context, postType, key, value string) ([]content.Post, error)
	FindByMetaRange(ctx context.Context, postType, key string, op content.Compare, value string, hint content.TypeHint) ([]content.Post, error)
	Insert(ctx context.Context, p content.Post) (int64, error)
	Update(ctx context.Context, id int64, u content.PostUpdate) error
	Delete(ctx context.Context, id int64, force bool) error
	SetMeta(ctx context.Context, id int64, key, value string) error
	GetMeta(ctx context.Context, id int64, key string) (string, bool, error)
}

// EventSource fetches the raw remote event list.
type EventSource interface {
	Fetch(ctx context.Context, requestURL, token string) ([]eventbrite.EventPayload, error)
}

// Config is resolved once at startup and never changes during a run.
type Config struct {
	Endpoint string
	Token    string
	OwnerID  int64
	PostType string
	SiteURL  string
}

// Result summarizes one run.
type Result struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Expired    int       `json:"expired"`
	Received   int       `json:"received"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
}

// EventError is a failure confined to a single remote event.
type EventError struct {
	Index   int
	EventID string
	Op      string
	Err     error
}

func (e *EventError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("event #%d: %s: %v", e.Index, e.Op, e.Err)
	}
	return fmt.Sprintf("event %s: %s: %v", e.EventID, e.Op, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

// Reconciler mirrors remote events into the content store.
type Reconciler struct {
	cfg     Config
	store   Store
	source  EventSource
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool
}

// New wires a reconciler. The clock defaults to time.Now.
func New(cfg Config, store Store, source EventSource, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		store:  store,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Only meant for tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Sync runs expiry, fetches live events, and reconciles each one in order.
// Individual event failures are counted in the result; the returned error is
// non-nil only when the fetch failed. ctx bounds expiry and the fetch; the
// per-event writes ignore its cancellation.
func (r *Reconciler) Sync(ctx context.Context) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer r.running.Store(false)

	res := Result{StartedAt: r.now().UTC()}
	r.expire(ctx, res.StartedAt, &res)

	payloads, err := r.source.Fetch(ctx, eventbrite.RequestURL(r.cfg.Endpoint), r.cfg.Token)
	if err != nil {
		if !errors.Is(err, eventbrite.ErrMalformedResponse) {
			res.FinishedAt = r.now().UTC()
			r.logger.Error("fetch events failed", "error", err, "expired", res.Expired)
			return res, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		r.logger.Warn("eventbrite response unreadable, nothing to reconcile", "error", err)
		payloads = nil
	}
	res.Received = len(payloads)

	// Once the fetch has succeeded the batch is applied in full, even if the
	// caller goes away.
	applyCtx := context.WithoutCancel(ctx)
	for i, p := range payloads {
		created, err := r.reconcileOne(applyCtx, i, p)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			r.logger.Warn("event skipped", "error", err)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	res.FinishedAt = r.now().UTC()
	r.logger.Info("sync finished",
		"expired", res.Expired, "received", res.Received, "created", res.Created,
		"updated", res.Updated, "failed", res.Failed,
		"duration", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

// expire removes every record whose end time is before now. Ids are collected
// before any delete so no cursor is read while rows disappear.
func (r *Reconciler) expire(ctx context.Context, now time.Time, res *Result) {
	posts, err := r.store.FindByMetaRange(ctx, r.cfg.PostType, MetaEnd, content.OpLess, FormatNow(now), content.HintDateTime)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("expire: %v", err))
		r.logger.Error("expiry lookup failed", "error", err)
		return
	}
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	for _, id := range ids {
		if err := r.store.Delete(ctx, id, true); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("expire post %d: %v", id, err))
			r.logger.Error("expiry delete failed", "post_id", id, "error", err)
			continue
		}
		res.Expired++
		r.logger.Debug("expired event removed", "post_id", id)
	}
}

func (r *Reconciler) reconcileOne(ctx context.Context, index int, p eventbrite.EventPayload) (bool, error) {
	ev, err := eventbrite.DecodeEvent(p)
	if err != nil {
		return false, &EventError{Index: index, EventID: ev.ID, Op: "decode", Err: err}
	}
	matches, err := r.store.FindByMeta(ctx, r.cfg.PostType, MetaID, ev.ID)
	if err != nil {
		return false, &EventError{Index: index, EventID: ev.ID, Op: "lookup", Err: err}
	}
	if len(matches) == 0 {
		return true, r.create(ctx, index, ev)
	}
	if len(matches) > 1 {
		r.logger.Warn("duplicate records share an event id, updating the first",
			"eventbrite_id", ev.ID, "matches", len(matches), "post_id", matches[0].ID)
	}
	return false, r.update(ctx, index, matches[0].ID, ev)
}

func (r *Reconciler) create(ctx context.Context, index int, ev eventbrite.Event) error {
	id, err := r.store.Insert(ctx, content.Post{
		Type:     r.cfg.PostType,
		Title:    ev.Name.Text,
		Content:  "",
		Status:   content.StatusPublish,
		AuthorID: r.cfg.OwnerID,
		Meta:     EventMeta(ev),
	})
	if err != nil {
		return &EventError{Index: index, EventID: ev.ID, Op: "create", Err: err}
	}
	// Not transactional with the insert: a failure here leaves the record
	// without request_url, and later runs never set it.
	if err := r.store.SetMeta(ctx, id, MetaRequestURL, r.EditLink(id)); err != nil {
		return &EventError{Index: index, EventID: ev.ID, Op: "set request_url", Err: err}
	}
	r.logger.Debug("event created", "eventbrite_id", ev.ID, "post_id", id)
	return nil
}

func (r *Reconciler) update(ctx context.Context, index int, id int64, ev eventbrite.Event) error {
	meta := EventMeta(ev)
	delete(meta, MetaID)
	title := ev.Name.Text
	if err := r.store.Update(ctx, id, content.PostUpdate{Title: &title, Meta: meta}); err != nil {
		return &EventError{Index: index, EventID: ev.ID, Op: "update", Err: err}
	}
	if _, ok, err := r.store.GetMeta(ctx, id, MetaRequestURL); err == nil && !ok {
		r.logger.Warn("record has no request_url and updates never set it", "eventbrite_id", ev.ID, "post_id", id)
	}
	r.logger.Debug("event updated", "eventbrite_id", ev.ID, "post_id", id)
	return nil
}

// EditLink is the admin edit URL recorded as request_url.
func (r *Reconciler) EditLink(id int64) string {
	return fmt.Sprintf("%s/admin/events/%d?action=edit", strings.TrimRight(r.cfg.SiteURL, "/"), id)
}

// EventMeta maps a remote event onto record metadata.
func EventMeta(ev eventbrite.Event) map[string]string {
	capacity := ""
	if ev.Capacity != nil {
		capacity = strconv.Itoa(*ev.Capacity)
	}
	return map[string]string{
		MetaID:          ev.ID,
		MetaDescription: eventbrite.StripTags(ev.Description.HTML),
		MetaURL:         ev.URL,
		MetaStart:       NormalizeTimestamp(ev.Start.UTC),
		MetaEnd:         NormalizeTimestamp(ev.End.UTC),
		MetaCreated:     ev.Created,
		MetaChanged:     ev.Changed,
		MetaCapacity:    capacity,
		MetaStatus:      ev.Status,
		MetaCurrency:    ev.Currency,
	}
}
