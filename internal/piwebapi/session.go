package piwebapi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Session holds everything one PI Web API client shares between calls: the
// server configuration, the transport, the connection state and the batch
// buffer. Configuration is immutable once the session is built.
type Session struct {
	cfg       ServerConfig
	transport Transport
	header    http.Header
	logger    *slog.Logger
	observer  Observer
	conn      *ConnState
	batch     *Batch
	now       func() time.Time
	tempDir   string
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithBatchCapacity sets the byte capacity of the session batch buffer.
func WithBatchCapacity(n int) Option {
	return func(s *Session) { s.batch = NewBatch(n) }
}

// WithClock replaces time.Now for timestamps of PostTag and PostTagsLive.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTempDir sets where response files are created. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(s *Session) { s.tempDir = dir }
}

func NewSession(cfg ServerConfig, transport Transport, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.New("piwebapi: nil transport")
	}
	s := &Session{
		cfg:       cfg,
		transport: transport,
		logger:    slog.Default(),
		observer:  nopObserver{},
		batch:     NewBatch(DefaultBatchCapacity),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.header = http.Header{}
	s.header.Set("Authorization", "Basic "+cfg.Credentials)
	s.header.Set("Content-Type", "application/json")
	s.header.Set("X-Requested-With", "JSONHttpRequest")
	s.conn = NewConnState(s.logger, s.observer)
	return s, nil
}

func (s *Session) Config() ServerConfig { return s.cfg }

// Connected reports the last known reachability of the server.
func (s *Session) Connected() bool { return s.conn.Connected() }

// exchange runs one request and classifies it. When wantBody is set the
// response is received through a temporary file that is removed before
// exchange returns, whatever the outcome.
func (s *Session) exchange(ctx context.Context, op, method, url string, body []byte, wantBody bool) ([]byte, error) {
	start := time.Now()
	req := &Request{Method: method, URL: url, Header: s.header, Body: body}

	if wantBody {
		f, err := os.CreateTemp(s.tempDir, "piwebapi-*.json")
		if err != nil {
			return nil, fmt.Errorf("%s: create response file: %w", op, err)
		}
		req.ResponseFile = f.Name()
		f.Close()
		defer func() {
			if err := os.Remove(req.ResponseFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Error("failed to delete the response file", "path", req.ResponseFile, "err", err)
			}
		}()
	}

	status, terr := s.transport.Do(ctx, req)

	var resp []byte
	if wantBody && (status == StatusOK || status == StatusHTTPError) {
		b, err := os.ReadFile(req.ResponseFile)
		if err != nil {
			status, terr = StatusFailed, fmt.Errorf("read response: %w", err)
		} else {
			resp = b
		}
	}

	perr := classifyResponse(s.logger, status, terr, resp, wantBody)
	kind := KindOK
	if perr != nil {
		perr.Op = op
		kind = perr.Kind
	}
	s.conn.Observe(kind)
	s.observer.RequestDone(op, kind, time.Since(start))

	if perr != nil {
		return resp, perr
	}
	return resp, nil
}
