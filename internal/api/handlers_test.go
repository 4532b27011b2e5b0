package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pi-connector/internal/bridge"
	"pi-connector/internal/model"
)

type fakeStatus struct{ st bridge.Status }

func (f fakeStatus) Status() bridge.Status { return f.st }

type fakeJournal struct {
	posts     []model.PostRecord
	events    []model.ConnectionEvent
	latest    []model.LatestTagValue
	tags      []model.TagRecord
	failRead  bool
	gotTag    string
	gotLimit  int
	failCount bool
}

func (f *fakeJournal) RecentPosts(_ context.Context, tag string, limit int) ([]model.PostRecord, error) {
	f.gotTag, f.gotLimit = tag, limit
	return f.posts, nil
}

func (f *fakeJournal) ConnectionEvents(_ context.Context, limit int) ([]model.ConnectionEvent, error) {
	f.gotLimit = limit
	return f.events, nil
}

func (f *fakeJournal) OutcomeCounts(context.Context) (map[string]int64, error) {
	if f.failCount {
		return nil, errors.New("database is locked")
	}
	return map[string]int64{"ok": 3}, nil
}

func (f *fakeJournal) LatestValues(context.Context) ([]model.LatestTagValue, error) {
	if f.failRead {
		return nil, errors.New("no such table: latest_tag_values")
	}
	return f.latest, nil
}

func (f *fakeJournal) Tags(context.Context) ([]model.TagRecord, error) {
	if f.failRead {
		return nil, errors.New("no such table: tags")
	}
	return f.tags, nil
}

var sampleStatus = bridge.Status{
	Connected: true,
	Device:    "flexy1",
	Mode:      bridge.ModeBatch,
	Resolved:  true,
	Cycles:    4,
	Tags:      []bridge.TagStatus{{Name: "Temp", Type: "float", WebID: "W1", Value: "21.5"}},
}

func serve(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := NewServer(h, prometheus.NewRegistry(), nil)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	rec := serve(t, NewHandler(fakeStatus{st: sampleStatus}, nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","connected":true}`, rec.Body.String())
}

func TestHandleStatus(t *testing.T) {
	rec := serve(t, NewHandler(fakeStatus{st: sampleStatus}, &fakeJournal{}), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["connected"])
	assert.Equal(t, "flexy1", got["device"])
	assert.Equal(t, map[string]any{"ok": float64(3)}, got["outcomes"])
	tags := got["tags"].([]any)
	require.Len(t, tags, 1)
	assert.Equal(t, "W1", tags[0].(map[string]any)["web_id"])
}

func TestHandleStatusJournalFailure(t *testing.T) {
	rec := serve(t, NewHandler(fakeStatus{st: sampleStatus}, &fakeJournal{failCount: true}), "/api/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestHandleJournal(t *testing.T) {
	j := &fakeJournal{posts: []model.PostRecord{
		{ID: 2, Tag: "Temp", Value: "21.5", Outcome: "ok", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	rec := serve(t, NewHandler(fakeStatus{}, j), "/api/journal?limit=10&tag=Temp")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Temp", j.gotTag)
	assert.Equal(t, 10, j.gotLimit)

	var got []model.PostRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "21.5", got[0].Value)
}

func TestHandleJournalLimits(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{name: "default", query: "", wantStatus: http.StatusOK, wantLimit: defaultLimit},
		{name: "capped", query: "?limit=999999", wantStatus: http.StatusOK, wantLimit: maxLimit},
		{name: "negative", query: "?limit=-1", wantStatus: http.StatusBadRequest},
		{name: "text", query: "?limit=many", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &fakeJournal{}
			rec := serve(t, NewHandler(fakeStatus{}, j), "/api/journal"+tt.query)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantLimit, j.gotLimit)
				assert.Equal(t, "[]", rec.Body.String()[:2])
			} else {
				assert.Contains(t, rec.Body.String(), "BAD_REQUEST")
			}
		})
	}
}

func TestHandleEvents(t *testing.T) {
	j := &fakeJournal{events: []model.ConnectionEvent{{ID: 1, Device: "flexy1", Connected: false, Cause: "send_failed"}}}
	rec := serve(t, NewHandler(fakeStatus{}, j), "/api/events?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, j.gotLimit)
	assert.Contains(t, rec.Body.String(), `"cause":"send_failed"`)
}

func TestHandleLatest(t *testing.T) {
	j := &fakeJournal{latest: []model.LatestTagValue{{Tag: "Temp", WebID: "W1", Value: "21.5", Timestamp: "2024-01-01T00:00:00"}}}
	rec := serve(t, NewHandler(fakeStatus{}, j), "/api/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.LatestTagValue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "21.5", got[0].Value)
	assert.Equal(t, "2024-01-01T00:00:00", got[0].Timestamp)

	rec = serve(t, NewHandler(fakeStatus{}, &fakeJournal{}), "/api/latest")
	assert.Equal(t, "[]", rec.Body.String()[:2])
}

func TestHandleTags(t *testing.T) {
	j := &fakeJournal{tags: []model.TagRecord{{Name: "Temp", DataType: "float", PointName: "Temp-flexy1", WebID: "W1"}}}
	rec := serve(t, NewHandler(fakeStatus{}, j), "/api/tags")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"point_name":"Temp-flexy1"`)
	assert.Contains(t, rec.Body.String(), `"web_id":"W1"`)
}

func TestLatestAndTagsReadFailures(t *testing.T) {
	for _, path := range []string{"/api/latest", "/api/tags"} {
		rec := serve(t, NewHandler(fakeStatus{}, &fakeJournal{failRead: true}), path)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "no such table", path)
	}
}

func TestJournalDisabled(t *testing.T) {
	for _, path := range []string{"/api/journal", "/api/events", "/api/latest", "/api/tags"} {
		rec := serve(t, NewHandler(fakeStatus{}, nil), path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "pi_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	e := NewServer(NewHandler(fakeStatus{}, nil), reg, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pi_test_total 1")
}

func TestUnknownRoute(t *testing.T) {
	rec := serve(t, NewHandler(fakeStatus{}, nil), "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "HTTP_ERROR")
}

func TestServeStopsOnCancel(t *testing.T) {
	e := NewServer(NewHandler(fakeStatus{}, nil), prometheus.NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, e, "127.0.0.1:0", nil) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
