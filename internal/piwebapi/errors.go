package piwebapi

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the canonical outcome of one exchange with the PI Web API.
type Kind int

const (
	KindOK Kind = iota
	// KindTransportDown means the local link is unavailable.
	KindTransportDown
	// KindSendFailed means the link is up but the server could not be reached.
	KindSendFailed
	KindAuthDenied
	KindInvalidWebID
	// KindMalformedResponse means a JSON body was expected but could not be parsed.
	KindMalformedResponse
	KindServerError
	// KindCreationFailed means a point was created but could not be found afterwards.
	KindCreationFailed
)

var kindNames = [...]string{
	KindOK:                "ok",
	KindTransportDown:     "transport_down",
	KindSendFailed:        "send_failed",
	KindAuthDenied:        "auth_denied",
	KindInvalidWebID:      "invalid_webid",
	KindMalformedResponse: "malformed_response",
	KindServerError:       "server_error",
	KindCreationFailed:    "creation_failed",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Disconnected reports whether the kind means the server is out of reach.
func (k Kind) Disconnected() bool {
	return k == KindTransportDown || k == KindSendFailed
}

var (
	// ErrUnsupportedDataType is returned for a tag type with no PI point type.
	ErrUnsupportedDataType = errors.New("unsupported data type")
	// ErrBatchOverflow is returned when an entry does not fit the batch capacity.
	ErrBatchOverflow = errors.New("batch capacity exceeded")
	// ErrBatchState is returned when batch calls are made out of order.
	ErrBatchState = errors.New("batch not in the expected state")
	// ErrNoWebID is returned when posting a tag that was never resolved.
	ErrNoWebID = errors.New("tag has no webid")
)

// Error is a classified failure of a PI Web API request.
type Error struct {
	Kind Kind
	// Op names the request, e.g. "lookup" or "batch".
	Op string
	// Messages holds every error string reported by the server.
	Messages []string
	// Entries is set for a batch the server accepted but partly rejected:
	// the outcome of each failed sub-request, keyed by its 1-based number.
	Entries map[int]Kind
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("piwebapi ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the outcome from err. A nil error is KindOK and an error
// that was not classified is reported as KindServerError.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindServerError
}

// EntryKind is the outcome of sub-request n (1-based) of a posted batch.
// Without per-entry results every entry shares the outcome of err.
func EntryKind(err error, n int) Kind {
	var pe *Error
	if errors.As(err, &pe) && pe.Entries != nil {
		if k, ok := pe.Entries[n]; ok {
			return k
		}
		return KindOK
	}
	return KindOf(err)
}

// severity orders the kinds a server can report for one request.
func severity(k Kind) int {
	switch k {
	case KindAuthDenied:
		return 3
	case KindInvalidWebID:
		return 2
	case KindOK:
		return 0
	default:
		return 1
	}
}
