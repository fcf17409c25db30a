package mockapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/eventbrite-sync/internal/content"
	"example.com/eventbrite-sync/internal/eventbrite"
	"example.com/eventbrite-sync/internal/logging"
	"example.com/eventbrite-sync/internal/reconcile"
	"example.com/eventbrite-sync/internal/sqliteutil"
)

const testToken = "organizer-token"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "mockapi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewStore(db)
	require.NoError(t, store.Init(context.Background()))
	_, err = store.EnsureToken(context.Background(), testToken, "tests")
	require.NoError(t, err)
	return store
}

func call(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func createEvent(t *testing.T, h http.Handler, body string) string {
	t.Helper()
	rec, payload := call(t, h, http.MethodPost, "/admin/events", "", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return payload["id"].(string)
}

func TestServer_OwnedEventsRequiresToken(t *testing.T) {
	srv := NewServer(newTestStore(t), logging.Discard()).Router()

	rec, payload := call(t, srv, http.MethodGet, "/v3/users/me/owned_events/", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "NO_AUTH", payload["error"])

	rec, payload = call(t, srv, http.MethodGet, "/v3/users/me/owned_events/", "nope", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_AUTH", payload["error"])

	rec, _ = call(t, srv, http.MethodGet, "/v3/users/me/owned_events/?token="+testToken, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_OwnedEventsFiltersAndOrders(t *testing.T) {
	srv := NewServer(newTestStore(t), logging.Discard()).Router()
	early := createEvent(t, srv, `{"name":"Early","start":"2099-01-01T10:00:00Z","end":"2099-01-01T12:00:00Z","capacity":50}`)
	late := createEvent(t, srv, `{"name":"Late","description":"<p>Late <b>show</b></p>","start":"2099-03-01T10:00:00Z","end":"2099-03-01T12:00:00Z"}`)
	createEvent(t, srv, `{"name":"Draft","status":"draft","start":"2099-02-01T10:00:00Z","end":"2099-02-01T12:00:00Z"}`)

	rec, payload := call(t, srv, http.MethodGet, "/v3/users/me/owned_events/?status=live&order_by=start_desc", testToken, "")

	require.Equal(t, http.StatusOK, rec.Code)
	events := payload["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, late, first["id"])
	assert.Equal(t, "Late show", first["description"].(map[string]any)["text"])
	assert.Equal(t, "2099-03-01T12:00:00Z", first["end"].(map[string]any)["utc"])
	assert.Nil(t, first["capacity"])
	second := events[1].(map[string]any)
	assert.Equal(t, early, second["id"])
	assert.Equal(t, float64(50), second["capacity"])
	pagination := payload["pagination"].(map[string]any)
	assert.Equal(t, float64(2), pagination["object_count"])
	assert.Equal(t, false, pagination["has_more_items"])

	rec, _ = call(t, srv, http.MethodGet, "/v3/users/me/owned_events/?status=bogus", testToken, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_AdminEventLifecycle(t *testing.T) {
	srv := NewServer(newTestStore(t), logging.Discard()).Router()

	rec, payload := call(t, srv, http.MethodPost, "/admin/events/random", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := payload["id"].(string)
	assert.Len(t, id, 12)
	assert.Equal(t, "live", payload["status"])

	rec, payload = call(t, srv, http.MethodPost, "/admin/events/"+id+"/status", "", `{"status":"canceled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "canceled", payload["status"])

	rec, _ = call(t, srv, http.MethodPost, "/admin/events/"+id+"/status", "", `{"status":"gone"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(t, srv, http.MethodDelete, "/admin/events/"+id, "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = call(t, srv, http.MethodGet, "/admin/events/"+id, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = call(t, srv, http.MethodPost, "/admin/events", "", `{"name":"","start":"2099-01-01","end":"2099-01-02"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = call(t, srv, http.MethodPost, "/admin/events", "", `{"name":"Backwards","start":"2099-01-02","end":"2099-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ErrorMessagesKeepPercentSigns(t *testing.T) {
	srv := NewServer(newTestStore(t), logging.Discard()).Router()
	id := createEvent(t, srv, `{"name":"Gala","start":"2099-01-01","end":"2099-01-02"}`)

	rec, payload := call(t, srv, http.MethodPost, "/admin/events/"+id+"/status", "", `{"status":"50%done"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	message := payload["error"].(map[string]any)["message"].(string)
	assert.Contains(t, message, `unknown status "50%done"`)
	assert.NotContains(t, message, "MISSING")
}

func TestServer_CreateToken(t *testing.T) {
	store := newTestStore(t)
	srv := NewServer(store, logging.Discard()).Router()

	rec, payload := call(t, srv, http.MethodPost, "/admin/tokens", "", `{"label":"ci"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := payload["token"].(string)

	rec, _ = call(t, srv, http.MethodGet, "/v3/users/me/owned_events/", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = call(t, srv, http.MethodPost, "/admin/tokens", "", `{"label":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// The reconciler, driven through the real HTTP client, mirrors live events and
// removes the ones that have ended.
func TestEndToEnd_SyncAgainstMockAPI(t *testing.T) {
	api := NewServer(newTestStore(t), logging.Discard()).Router()
	upstream := httptest.NewServer(api)
	t.Cleanup(upstream.Close)
	createEvent(t, api, `{"id":"100000000001","name":"Keynote","start":"2026-11-01T09:00:00Z","end":"2026-11-01T10:00:00Z","capacity":300}`)
	createEvent(t, api, `{"id":"100000000002","name":"Workshop","start":"2026-10-19T08:00:00Z","end":"2026-10-19T11:00:00Z"}`)
	createEvent(t, api, `{"id":"100000000003","name":"Hidden","status":"draft","start":"2026-12-01T09:00:00Z","end":"2026-12-01T10:00:00Z"}`)

	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	posts := content.NewStore(db)
	ctx := context.Background()
	require.NoError(t, posts.Init(ctx))
	owner, err := posts.ResolveUser(ctx, "events@example.com")
	require.NoError(t, err)

	rec := reconcile.New(reconcile.Config{
		Endpoint: upstream.URL + "/v3/",
		Token:    testToken,
		OwnerID:  owner.ID,
		PostType: "eventbrite_events",
		SiteURL:  "https://cms.example.com",
	}, posts, eventbrite.NewClient(5*time.Second), logging.Discard())
	rec.SetClock(func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) })

	res, err := rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, 2, res.Created)

	keynote, err := posts.FindByMeta(ctx, "eventbrite_events", reconcile.MetaID, "100000000001")
	require.NoError(t, err)
	require.Len(t, keynote, 1)
	assert.Equal(t, "Keynote", keynote[0].Title)
	assert.Equal(t, "2026-11-01 10:00:00 ", keynote[0].Meta[reconcile.MetaEnd])
	assert.Equal(t, "300", keynote[0].Meta[reconcile.MetaCapacity])

	// Noon: the workshop has ended and is still listed, so it is expired and
	// then recreated by the same run.
	rec.SetClock(func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) })
	res, err = rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
}
