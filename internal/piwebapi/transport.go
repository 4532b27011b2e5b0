package piwebapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"
)

// Status is the code a Transport returns for one request.
type Status int

const (
	StatusOK Status = 0
	// StatusFailed covers transport failures that are neither link nor reachability problems.
	StatusFailed Status = 1
	// StatusHTTPError means the server answered with a 4xx/5xx status.
	StatusHTTPError Status = 2
	StatusLinkDown  Status = 32601
	StatusSendError Status = 32603
)

// Request is one HTTP exchange handed to a Transport.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// ResponseFile, when set, receives the response body.
	ResponseFile string
}

// Transport performs a single blocking request. The error carries detail for
// logging; classification relies on the Status.
type Transport interface {
	Do(ctx context.Context, req *Request) (Status, error)
}

// HTTPClient is satisfied by *http.Client and by test doubles.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPStatusError is returned with StatusHTTPError.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d %s", e.Code, http.StatusText(e.Code))
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	Client HTTPClient
}

// NewHTTPTransport builds a transport with its own client. insecure disables
// certificate verification, which PI servers with self-signed certificates need.
func NewHTTPTransport(timeout time.Duration, insecure bool) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &HTTPTransport{Client: &http.Client{Timeout: timeout, Transport: tr}}
}

func (t *HTTPTransport) Do(ctx context.Context, r *Request) (Status, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return StatusFailed, err
	}
	if r.Header != nil {
		req.Header = r.Header.Clone()
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return netErrorStatus(err), err
	}
	defer resp.Body.Close()

	if r.ResponseFile != "" {
		if err := writeResponse(r.ResponseFile, resp.Body); err != nil {
			return StatusFailed, fmt.Errorf("store response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return StatusHTTPError, &HTTPStatusError{Code: resp.StatusCode}
	}
	return StatusOK, nil
}

func writeResponse(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// netErrorStatus separates "our link is down" from "the server is not answering".
func netErrorStatus(err error) Status {
	if errors.Is(err, context.Canceled) {
		return StatusFailed
	}
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ENETDOWN) || errors.Is(err, syscall.EHOSTUNREACH) {
		return StatusLinkDown
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusSendError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return StatusSendError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusSendError
	}
	return StatusFailed
}
