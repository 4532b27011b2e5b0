package piwebapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"
)

const (
	authDeniedText   = "user credentials are incorrect"
	invalidWebIDText = "Unknown or invalid WebID format:"
)

// classifyResponse maps a transport result and an optional response body to
// an outcome. body is only inspected when wantBody is set. Every server
// error entry is logged; when several are present the most specific kind
// wins: auth denied, then invalid WebID, then any other server error.
func classifyResponse(logger *slog.Logger, status Status, terr error, body []byte, wantBody bool) *Error {
	switch status {
	case StatusLinkDown:
		return &Error{Kind: KindTransportDown, Err: terr}
	case StatusSendError:
		return &Error{Kind: KindSendFailed, Err: terr}
	case StatusOK, StatusHTTPError:
	default:
		logger.Error("sending failed", "status", int(status), "err", terr)
		return &Error{Kind: KindServerError, Messages: []string{fmt.Sprintf("sending failed, error #%d", int(status))}, Err: terr}
	}

	var perr *Error
	if wantBody && len(strings.TrimSpace(string(body))) > 0 {
		perr = classifyBody(logger, body)
	}
	if status == StatusOK {
		return perr
	}

	if perr != nil {
		perr.Err = terr
		return perr
	}
	var hse *HTTPStatusError
	if errors.As(terr, &hse) && hse.Code == http.StatusUnauthorized {
		logger.Error(authDeniedText)
		return &Error{Kind: KindAuthDenied, Err: terr}
	}
	logger.Error("sending failed", "err", terr)
	return &Error{Kind: KindServerError, Err: terr}
}

func classifyBody(logger *slog.Logger, body []byte) *Error {
	if !gjson.ValidBytes(body) {
		logger.Error("malformed JSON response from PI server", "bytes", len(body))
		return &Error{Kind: KindMalformedResponse}
	}
	doc := gjson.ParseBytes(body)

	out := &Error{Kind: KindOK}
	if msg := doc.Get("Message"); msg.Exists() {
		logger.Error(authDeniedText, "message", msg.String())
		out.Kind = KindAuthDenied
		out.Messages = append(out.Messages, msg.String())
	}
	doc.Get("Errors").ForEach(func(_, entry gjson.Result) bool {
		text := entry.String()
		out.Messages = append(out.Messages, text)
		if strings.HasPrefix(text, invalidWebIDText) {
			logger.Error("supplied WebID does not exist on this server", "error", text)
			if out.Kind != KindAuthDenied {
				out.Kind = KindInvalidWebID
			}
			return true
		}
		logger.Error("PI server error", "error", text)
		if out.Kind == KindOK {
			out.Kind = KindServerError
		}
		return true
	})

	if out.Kind == KindOK {
		return nil
	}
	return out
}

// classifyBatch reads the per-request results of a batch response, an object
// keyed by sub-request number. Entries with a 2xx status succeeded; every
// other entry is classified from its Content like a single response.
func classifyBatch(logger *slog.Logger, body []byte) *Error {
	if len(strings.TrimSpace(string(body))) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	var out *Error
	gjson.ParseBytes(body).ForEach(func(key, entry gjson.Result) bool {
		n, err := strconv.Atoi(key.String())
		if err != nil {
			return true
		}
		status := entry.Get("Status")
		if !status.Exists() || (status.Int() >= 200 && status.Int() < 300) {
			return true
		}

		kind := KindServerError
		var msgs []string
		if content := entry.Get("Content"); content.IsObject() {
			if sub := classifyBody(logger, []byte(content.Raw)); sub != nil {
				kind, msgs = sub.Kind, sub.Messages
			}
		}
		if len(msgs) == 0 {
			logger.Error("PI batch request failed", "entry", n, "status", status.Int())
			msgs = []string{fmt.Sprintf("entry %d: status %d", n, status.Int())}
		}

		if out == nil {
			out = &Error{Kind: kind, Entries: make(map[int]Kind)}
		}
		out.Entries[n] = kind
		out.Messages = append(out.Messages, msgs...)
		if severity(kind) > severity(out.Kind) {
			out.Kind = kind
		}
		return true
	})
	return out
}

// ConnState tracks whether the PI server is reachable. Each transition is
// logged once, however many failures follow.
type ConnState struct {
	down     atomic.Bool
	logger   *slog.Logger
	observer Observer
}

// NewConnState starts in the connected state.
func NewConnState(logger *slog.Logger, observer Observer) *ConnState {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &ConnState{logger: logger, observer: observer}
}

func (c *ConnState) Connected() bool { return !c.down.Load() }

// Observe applies the outcome of one request.
func (c *ConnState) Observe(kind Kind) {
	switch {
	case kind.Disconnected():
		if c.down.CompareAndSwap(false, true) {
			if kind == KindTransportDown {
				c.logger.Error("could not connect to PI server, link is down")
			} else {
				c.logger.Error("could not connect to PI server, server is offline or unreachable")
			}
			c.observer.ConnectionChanged(false, kind)
		}
	case kind == KindOK:
		if c.down.CompareAndSwap(true, false) {
			c.logger.Info("connection to PI server restored")
			c.observer.ConnectionChanged(true, kind)
		}
	}
}
