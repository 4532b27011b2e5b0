package tasks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pi-connector/internal/db"
	"pi-connector/internal/model"
)

// fakePI serves point lookups from a map and records posted paths.
type fakePI struct {
	mu     sync.Mutex
	points map[string]string
	posts  []string
	bodies []string
}

func (f *fakePI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/points"):
		name := r.URL.Query().Get("nameFilter")
		if id, ok := f.points[name]; ok {
			fmt.Fprintf(w, `{"Items":[{"WebId":%q}]}`, id)
			return
		}
		fmt.Fprint(w, `{"Items":[]}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/points"):
		var p struct{ Name string }
		_ = json.Unmarshal(body, &p)
		f.points[p.Name] = "W-" + p.Name
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPut:
		w.WriteHeader(http.StatusNoContent)
	default:
		f.posts = append(f.posts, r.URL.Path)
		f.bodies = append(f.bodies, string(body))
		w.WriteHeader(http.StatusAccepted)
	}
}

func (f *fakePI) postedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...)
}

func (f *fakePI) postedBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

func setup(t *testing.T, extra string) (Options, *fakePI, string) {
	t.Helper()
	pi := &fakePI{points: map[string]string{"Temp-dev1": "W-TEMP"}}
	srv := httptest.NewTLSServer(pi)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	journal := filepath.Join(dir, "data", "journal.sqlite")
	doc := fmt.Sprintf(`
pi:
  host: %s
  username: piuser
  password: pipass
  db_webid: DB1
  device_name: dev1
  timeout: 5s
  insecure_skip_verify: true
journal:
  enabled: true
  path: %s
status:
  enabled: false
sources:
  - server_id: plc
    protocol: modbus-tcp
    connection: { host: 127.0.0.1, port: 1 }
    timeout: 200ms
    enabled: true
    devices:
      - device_id: d1
        slave_id: 1
        points:
          - { name: Temp, address: 0, register_type: holding, data_type: float32 }
          - { name: Run, address: 1, register_type: coil }
%s`, strings.TrimPrefix(srv.URL, "https://"), journal, extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	opts := Options{
		ConfigPath: path,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry:   prometheus.NewRegistry(),
	}
	return opts, pi, journal
}

func TestProvisionCreatesMissingPoints(t *testing.T) {
	opts, pi, journalPath := setup(t, "")
	var out bytes.Buffer
	require.NoError(t, Provision(context.Background(), opts, &out))

	text := out.String()
	assert.Contains(t, text, "W-TEMP")
	assert.Contains(t, text, "W-Run-dev1")
	assert.Contains(t, text, "Run-dev1")
	assert.Equal(t, "W-Run-dev1", pi.points["Run-dev1"])

	j, err := db.Open(journalPath)
	require.NoError(t, err)
	defer j.Close()
	tags, err := j.Tags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "Run", tags[0].Name)
	assert.Equal(t, "boolean", tags[0].DataType)
}

func TestPostValueAndExport(t *testing.T) {
	opts, pi, _ := setup(t, "")
	ctx := context.Background()

	require.NoError(t, PostValue(ctx, opts, "Temp", "21.5"))
	assert.Equal(t, []string{"/piwebapi/streams/W-TEMP/Value"}, pi.postedPaths())
	assert.Contains(t, pi.bodies[0], `"Value":21.5`)

	assert.ErrorContains(t, PostValue(ctx, opts, "Nope", "1"), "not configured")

	out := filepath.Join(t.TempDir(), "journal.json")
	require.NoError(t, Export(ctx, opts, ExportOptions{Out: out, Format: "json"}))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	var recs []model.PostRecord
	require.NoError(t, json.Unmarshal(b, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "Temp", recs[0].Tag)
	assert.Equal(t, "ok", recs[0].Outcome)
	assert.Equal(t, "W-TEMP", recs[0].WebID)
}

func TestExportWithoutJournal(t *testing.T) {
	opts, _, _ := setup(t, "")
	err := Export(context.Background(), opts, ExportOptions{Out: filepath.Join(t.TempDir(), "x.json")})
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	opts, _, _ := setup(t, "")
	opts.Mode = "live"
	opts.Interval = time.Minute
	opts.NoJournal = true
	opts.StatusAddr = ":9999"
	opts.LogLevel = "debug"

	cfg, logger, err := Load(opts)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.Equal(t, "live", cfg.Bridge.Mode)
	assert.Equal(t, time.Minute, cfg.Bridge.Interval)
	assert.False(t, cfg.Journal.Enabled)
	assert.True(t, cfg.Status.Enabled)
	assert.Equal(t, ":9999", cfg.Status.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)

	opts.Mode = "stream"
	_, _, err = Load(opts)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	opts, _, _ := setup(t, "")
	opts.LogLevel = "loud"
	_, _, err := Load(opts)
	assert.ErrorContains(t, err, "log level override")

	opts.LogLevel = "WARN"
	cfg, _, err := Load(opts)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Log.Level)
}

func TestInitAndRunPostsUntilCancelled(t *testing.T) {
	opts, pi, journalPath := setup(t, "")
	opts.Interval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, InitAndRun(ctx, opts))

	paths := pi.postedPaths()
	require.NotEmpty(t, paths)
	for _, p := range paths {
		assert.Equal(t, "/piwebapi/batch/", p)
	}

	j, err := db.Open(journalPath)
	require.NoError(t, err)
	defer j.Close()
	counts, err := j.OutcomeCounts(context.Background())
	require.NoError(t, err)
	assert.Positive(t, counts["ok"])
}
