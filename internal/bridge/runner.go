package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pi-connector/internal/model"
	"pi-connector/internal/piwebapi"
	"pi-connector/internal/utils"
)

// Mode selects how a cycle's values reach the PI server.
type Mode string

const (
	// ModeBatch fills the session batch and flushes it when full.
	ModeBatch Mode = "batch"
	// ModeSingle posts one request per tag.
	ModeSingle Mode = "single"
	// ModeLive posts the current value of every tag in one batch request.
	ModeLive Mode = "live"
)

// ParseMode accepts batch, single or live; empty means batch.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBatch, nil
	case ModeBatch, ModeSingle, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown bridge mode %q", s)
	}
}

type Config struct {
	Mode     Mode
	Interval time.Duration
	// MaxEntries flushes the batch after this many entries; 0 means only on overflow.
	MaxEntries   int
	PostOnChange bool
	ChangeTTL    time.Duration
}

// Source produces tag values each cycle.
type Source interface {
	Tags() []*piwebapi.Tag
	Sample(ctx context.Context) error
}

// Journal stores what was posted.
type Journal interface {
	SavePostRecords(ctx context.Context, recs []model.PostRecord) error
}

// BatchObserver is told the size of each posted batch.
type BatchObserver interface {
	ObserveBatch(entries int)
}

// Status is a point-in-time view of the runner for the status API.
type Status struct {
	Connected bool        `json:"connected"`
	Device    string      `json:"device"`
	Mode      Mode        `json:"mode"`
	Resolved  bool        `json:"resolved"`
	Cycles    uint64      `json:"cycles"`
	LastCycle time.Time   `json:"last_cycle"`
	LastError string      `json:"last_error,omitempty"`
	Tags      []TagStatus `json:"tags"`
}

type TagStatus struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	WebID string `json:"web_id"`
	Value string `json:"value"`
}

// Runner drives the sample-and-post cycle.
type Runner struct {
	cfg      Config
	session  *piwebapi.Session
	source   Source
	journal  Journal
	batchObs BatchObserver
	cache    *utils.ValueCache
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	resolved  bool
	cycles    uint64
	lastCycle time.Time
	lastErr   error
}

type Option func(*Runner)

func WithJournal(j Journal) Option { return func(r *Runner) { r.journal = j } }

func WithBatchObserver(o BatchObserver) Option { return func(r *Runner) { r.batchObs = o } }

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces time.Now for the timestamps of posted values.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func New(cfg Config, session *piwebapi.Session, source Source, opts ...Option) (*Runner, error) {
	if session == nil || source == nil {
		return nil, errors.New("bridge: session and source are required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBatch
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	r := &Runner{
		cfg:     cfg,
		session: session,
		source:  source,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.PostOnChange {
		r.cache = utils.NewValueCache(cfg.ChangeTTL)
	}
	return r, nil
}

// Run runs a cycle immediately and then every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("bridge started", "mode", r.cfg.Mode, "interval", r.cfg.Interval, "tags", len(r.source.Tags()))
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := r.Cycle(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("bridge stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle resolves any pending tags, samples the source and posts the values.
// A malformed resolve response skips the rest of the cycle.
func (r *Runner) Cycle(ctx context.Context) (err error) {
	defer func() {
		r.mu.Lock()
		r.cycles++
		r.lastCycle = r.now()
		r.lastErr = err
		r.mu.Unlock()
	}()

	if err := r.resolvePending(ctx); err != nil {
		if piwebapi.KindOf(err) == piwebapi.KindMalformedResponse {
			r.logger.Warn("cycle skipped, malformed response while resolving tags", "err", err)
			return err
		}
		r.logger.Warn("tag resolution incomplete", "err", err)
	}

	if err := r.source.Sample(ctx); err != nil {
		r.logger.Warn("sampling incomplete", "err", err)
	}

	tags := r.selectTags()
	if len(tags) == 0 {
		return nil
	}

	var recs []model.PostRecord
	switch r.cfg.Mode {
	case ModeSingle:
		recs = r.postSingle(ctx, tags)
	case ModeLive:
		recs = r.postLive(ctx, tags)
	default:
		recs = r.postBatch(ctx, tags, ModeBatch, r.now())
	}
	r.remember(recs)

	if r.journal != nil {
		if err := r.journal.SavePostRecords(ctx, recs); err != nil {
			r.logger.Error("journal write failed", "records", len(recs), "err", err)
		}
	}
	return firstFailure(recs)
}

func (r *Runner) resolvePending(ctx context.Context) error {
	r.mu.Lock()
	done := r.resolved
	r.mu.Unlock()
	if done {
		return nil
	}
	var pending []*piwebapi.Tag
	for _, t := range r.source.Tags() {
		if t.WebID() == "" {
			pending = append(pending, t)
		}
	}
	if err := r.session.ResolveAll(ctx, pending); err != nil {
		return err
	}
	r.mu.Lock()
	r.resolved = true
	r.mu.Unlock()
	r.logger.Info("all tags resolved", "tags", len(r.source.Tags()))
	return nil
}

// selectTags returns the resolved tags due for posting.
func (r *Runner) selectTags() []*piwebapi.Tag {
	var out []*piwebapi.Tag
	for _, t := range r.source.Tags() {
		if t.WebID() == "" {
			continue
		}
		if r.cache != nil && !r.cache.Changed(t.Name, t.Value()) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// remember marks successfully posted values as unchanged.
func (r *Runner) remember(recs []model.PostRecord) {
	if r.cache == nil {
		return
	}
	for _, rec := range recs {
		if rec.Outcome == piwebapi.KindOK.String() {
			r.cache.SetValue(rec.Tag, rec.Value)
		}
	}
}

func (r *Runner) record(mode Mode, t *piwebapi.Tag, dp piwebapi.DataPoint) model.PostRecord {
	return model.PostRecord{
		Mode:      string(mode),
		Tag:       t.Name,
		PointName: t.PointName(r.session.Config().DeviceName),
		WebID:     t.WebID(),
		Value:     dp.Value,
		Timestamp: dp.Timestamp,
	}
}

func (r *Runner) postSingle(ctx context.Context, tags []*piwebapi.Tag) []model.PostRecord {
	batchID := uuid.NewString()
	dp := piwebapi.DataPoint{Timestamp: piwebapi.FormatTimestamp(r.now())}
	recs := make([]model.PostRecord, 0, len(tags))
	for _, t := range tags {
		dp.Value = t.Value()
		rec := r.record(ModeSingle, t, dp)
		rec.BatchID = batchID
		rec.Outcome = piwebapi.KindOf(r.session.PostDataPoint(ctx, t, dp)).String()
		recs = append(recs, rec)
	}
	return recs
}

// postLive posts every tag in one request. The journal carries the same
// timestamp as the posted values.
func (r *Runner) postLive(ctx context.Context, tags []*piwebapi.Tag) []model.PostRecord {
	at := r.now()
	err := r.session.PostTagsLiveAt(ctx, tags, at)
	if errors.Is(err, piwebapi.ErrBatchOverflow) {
		r.logger.Warn("live batch exceeds capacity, posting in chunks", "tags", len(tags))
		return r.postBatch(ctx, tags, ModeLive, at)
	}
	if r.batchObs != nil && sent(err) {
		r.batchObs.ObserveBatch(len(tags))
	}
	batchID := uuid.NewString()
	ts := piwebapi.FormatTimestamp(at)
	recs := make([]model.PostRecord, 0, len(tags))
	for i, t := range tags {
		rec := r.record(ModeLive, t, piwebapi.DataPoint{Value: t.Value(), Timestamp: ts})
		rec.BatchID = batchID
		rec.Outcome = piwebapi.EntryKind(err, i+1).String()
		recs = append(recs, rec)
	}
	return recs
}

// postBatch fills the session batch, flushing it whenever it reaches
// MaxEntries or an entry no longer fits. Records are labelled with mode.
func (r *Runner) postBatch(ctx context.Context, tags []*piwebapi.Tag, mode Mode, at time.Time) []model.PostRecord {
	ts := piwebapi.FormatTimestamp(at)
	var recs, pending []model.PostRecord

	flush := func() {
		if r.session.BatchCount() == 0 {
			return
		}
		n := r.session.BatchCount()
		err := r.session.EndBatch()
		if err == nil {
			err = r.session.PostBatch(ctx)
		}
		if sent(err) && r.batchObs != nil {
			r.batchObs.ObserveBatch(n)
		}
		batchID := uuid.NewString()
		for i := range pending {
			pending[i].BatchID = batchID
			pending[i].Outcome = piwebapi.EntryKind(err, i+1).String()
		}
		recs = append(recs, pending...)
		pending = nil
		r.session.StartBatch()
	}

	r.session.StartBatch()
	for _, t := range tags {
		dp := piwebapi.DataPoint{Value: t.Value(), Timestamp: ts}
		err := r.session.AddToBatch(t, dp)
		if errors.Is(err, piwebapi.ErrBatchOverflow) && r.session.BatchCount() > 0 {
			flush()
			err = r.session.AddToBatch(t, dp)
		}
		if err != nil {
			r.logger.Error("could not add value to batch", "tag", t.Name, "err", err)
			continue
		}
		pending = append(pending, r.record(mode, t, dp))
		if r.cfg.MaxEntries > 0 && r.session.BatchCount() >= r.cfg.MaxEntries {
			flush()
		}
	}
	flush()
	return recs
}

// sent reports whether the server accepted the batch request, even if it
// rejected some of its entries.
func sent(err error) bool {
	var pe *piwebapi.Error
	return err == nil || (errors.As(err, &pe) && pe.Entries != nil)
}

func firstFailure(recs []model.PostRecord) error {
	for _, rec := range recs {
		if rec.Outcome != piwebapi.KindOK.String() {
			return fmt.Errorf("post %s: %s", rec.Tag, rec.Outcome)
		}
	}
	return nil
}

// Status returns the current runner and tag state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	st := Status{
		Connected: r.session.Connected(),
		Device:    r.session.Config().DeviceName,
		Mode:      r.cfg.Mode,
		Resolved:  r.resolved,
		Cycles:    r.cycles,
		LastCycle: r.lastCycle,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.mu.Unlock()

	tags := r.source.Tags()
	st.Tags = make([]TagStatus, 0, len(tags))
	for _, t := range tags {
		st.Tags = append(st.Tags, TagStatus{Name: t.Name, Type: t.Type.String(), WebID: t.WebID(), Value: t.Value()})
	}
	return st
}
