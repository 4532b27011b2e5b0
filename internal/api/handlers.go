package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"pi-connector/internal/bridge"
	"pi-connector/internal/model"
)

const (
	defaultLimit = 100
	maxLimit     = 5000
)

// StatusProvider reports the bridge state.
type StatusProvider interface {
	Status() bridge.Status
}

// JournalReader is the read side of the journal.
type JournalReader interface {
	RecentPosts(ctx context.Context, tag string, limit int) ([]model.PostRecord, error)
	ConnectionEvents(ctx context.Context, limit int) ([]model.ConnectionEvent, error)
	OutcomeCounts(ctx context.Context) (map[string]int64, error)
	LatestValues(ctx context.Context) ([]model.LatestTagValue, error)
	Tags(ctx context.Context) ([]model.TagRecord, error)
}

// Handler handles API requests.
type Handler struct {
	status  StatusProvider
	journal JournalReader
}

// NewHandler creates a new API handler. journal may be nil when journaling is disabled.
func NewHandler(status StatusProvider, journal JournalReader) *Handler {
	return &Handler{status: status, journal: journal}
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": h.status.Status().Connected,
	})
}

type statusResponse struct {
	bridge.Status
	Outcomes map[string]int64 `json:"outcomes,omitempty"`
}

// HandleStatus returns the connection state, the tags and, when journaling,
// the number of posted values per outcome.
func (h *Handler) HandleStatus(c echo.Context) error {
	resp := statusResponse{Status: h.status.Status()}
	if h.journal != nil {
		counts, err := h.journal.OutcomeCounts(c.Request().Context())
		if err != nil {
			return NewInternalError("failed to count journal outcomes", err)
		}
		resp.Outcomes = counts
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleJournal returns the newest posted values, optionally for one tag.
func (h *Handler) HandleJournal(c echo.Context) error {
	if h.journal == nil {
		return NewServiceUnavailableError("journal is disabled")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	recs, err := h.journal.RecentPosts(c.Request().Context(), c.QueryParam("tag"), limit)
	if err != nil {
		return NewInternalError("failed to read journal", err)
	}
	if recs == nil {
		recs = []model.PostRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

// HandleEvents returns the newest connection transitions.
func (h *Handler) HandleEvents(c echo.Context) error {
	if h.journal == nil {
		return NewServiceUnavailableError("journal is disabled")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	evs, err := h.journal.ConnectionEvents(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read connection events", err)
	}
	if evs == nil {
		evs = []model.ConnectionEvent{}
	}
	return c.JSON(http.StatusOK, evs)
}

// HandleLatest returns the last successfully posted value of every tag.
func (h *Handler) HandleLatest(c echo.Context) error {
	if h.journal == nil {
		return NewServiceUnavailableError("journal is disabled")
	}
	vals, err := h.journal.LatestValues(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to read latest values", err)
	}
	if vals == nil {
		vals = []model.LatestTagValue{}
	}
	return c.JSON(http.StatusOK, vals)
}

// HandleTags returns the tags recorded by provisioning.
func (h *Handler) HandleTags(c echo.Context) error {
	if h.journal == nil {
		return NewServiceUnavailableError("journal is disabled")
	}
	tags, err := h.journal.Tags(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to read provisioned tags", err)
	}
	if tags == nil {
		tags = []model.TagRecord{}
	}
	return c.JSON(http.StatusOK, tags)
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, NewBadRequestError("limit must be a positive integer", err)
	}
	return min(n, maxLimit), nil
}
