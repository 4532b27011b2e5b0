package piwebapi

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeReply struct {
	status Status
	err    error
	body   string
}

type sentRequest struct {
	Method       string
	URL          string
	Header       map[string]string
	Body         string
	ResponseFile string
}

// fakeTransport answers requests from a handler and records them.
type fakeTransport struct {
	mu       sync.Mutex
	handler  func(n int, req *Request) fakeReply
	requests []sentRequest
}

func (f *fakeTransport) Do(_ context.Context, req *Request) (Status, error) {
	f.mu.Lock()
	n := len(f.requests)
	hdr := map[string]string{}
	for k := range req.Header {
		hdr[k] = req.Header.Get(k)
	}
	f.requests = append(f.requests, sentRequest{
		Method:       req.Method,
		URL:          req.URL,
		Header:       hdr,
		Body:         string(req.Body),
		ResponseFile: req.ResponseFile,
	})
	f.mu.Unlock()

	reply := fakeReply{status: StatusOK}
	if f.handler != nil {
		reply = f.handler(n, req)
	}
	if req.ResponseFile != "" && reply.body != "" {
		if err := os.WriteFile(req.ResponseFile, []byte(reply.body), 0o600); err != nil {
			return StatusFailed, err
		}
	}
	return reply.status, reply.err
}

func (f *fakeTransport) sent() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.requests...)
}

func (f *fakeTransport) count(method, urlPart string) int {
	n := 0
	for _, r := range f.sent() {
		if r.Method == method && strings.Contains(r.URL, urlPart) {
			n++
		}
	}
	return n
}

// syncBuffer lets slog write from any goroutine.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

var testConfig = ServerConfig{
	Host:        "pi.local",
	Credentials: BasicCredentials("user", "secret"),
	DBWebID:     "DB1",
	DeviceName:  "flexy1",
}

func newTestSession(t *testing.T, tr Transport, opts ...Option) (*Session, *syncBuffer, string) {
	t.Helper()
	logs := &syncBuffer{}
	tmp := t.TempDir()
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	base := []Option{
		WithLogger(logger),
		WithTempDir(tmp),
		WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
	}
	s, err := NewSession(testConfig, tr, append(base, opts...)...)
	require.NoError(t, err)
	return s, logs, tmp
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "response files must be removed")
}
