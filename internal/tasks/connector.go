package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"pi-connector/internal/api"
	"pi-connector/internal/bridge"
	"pi-connector/internal/collector"
	"pi-connector/internal/config"
	"pi-connector/internal/db"
	"pi-connector/internal/metrics"
	"pi-connector/internal/model"
	"pi-connector/internal/output"
	"pi-connector/internal/piwebapi"
)

// Options defines initialization overrides for the connector.
// Mirrors the CLI flags of cmd/connector.
type Options struct {
	ConfigPath string
	Mode       string
	Interval   time.Duration
	// JournalPath enables the journal at the given path.
	JournalPath string
	NoJournal   bool
	StatusAddr  string
	NoStatus    bool
	LogLevel    string
	// Logger replaces the logger built from the log section.
	Logger *slog.Logger
	// Registry receives the metrics; a fresh registry is used when nil.
	Registry *prometheus.Registry
}

// Load reads the configuration and applies the overrides of opts.
func Load(opts Options) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	// Override YAML with provided options
	if opts.Mode != "" {
		if _, err := bridge.ParseMode(opts.Mode); err != nil {
			return nil, nil, err
		}
		cfg.Bridge.Mode = opts.Mode
	}
	if opts.Interval > 0 {
		cfg.Bridge.Interval = opts.Interval
	}
	if opts.JournalPath != "" {
		cfg.Journal.Path = opts.JournalPath
		cfg.Journal.Enabled = true
	}
	if opts.NoJournal {
		cfg.Journal.Enabled = false
	}
	if opts.StatusAddr != "" {
		cfg.Status.Addr = opts.StatusAddr
		cfg.Status.Enabled = true
	}
	if opts.NoStatus {
		cfg.Status.Enabled = false
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
		if err := cfg.Log.Validate(); err != nil {
			return nil, nil, fmt.Errorf("log level override: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = cfg.Log.NewLogger(os.Stderr)
	}
	return cfg, logger, nil
}

func newSession(cfg *config.Config, logger *slog.Logger, observer piwebapi.Observer) (*piwebapi.Session, error) {
	transport := piwebapi.NewHTTPTransport(cfg.PI.Timeout, cfg.PI.InsecureSkipVerify)
	return piwebapi.NewSession(cfg.PIServer(), transport,
		piwebapi.WithLogger(logger),
		piwebapi.WithObserver(observer),
		piwebapi.WithBatchCapacity(cfg.Bridge.BatchCapacity),
	)
}

func openJournal(cfg *config.Config) (*db.DB, error) {
	j, err := db.Open(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.Journal.Path, err)
	}
	j.BatchSize = cfg.Journal.BatchSize
	return j, nil
}

// InitAndRun loads config, applies overrides, wires the source, the PI
// session, the journal, metrics and the status API, and runs until ctx is done.
func InitAndRun(ctx context.Context, opts Options) (err error) {
	cfg, logger, err := Load(opts)
	if err != nil {
		return err
	}

	source, err := collector.NewSource(cfg.Sources, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := source.Close(); cerr != nil {
			logger.Warn("closing modbus connections", "err", cerr)
		}
	}()

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	prom, err := metrics.NewPromObs(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	observers := piwebapi.Observers{prom}

	var journal *db.DB
	if cfg.Journal.Enabled {
		if journal, err = openJournal(cfg); err != nil {
			return err
		}
		defer func() { err = errors.Join(err, journal.Close()) }()
		observers = append(observers, &db.EventRecorder{DB: journal, Device: cfg.PI.DeviceName, Logger: logger})
	}

	session, err := newSession(cfg, logger, observers)
	if err != nil {
		return err
	}

	runnerOpts := []bridge.Option{bridge.WithLogger(logger), bridge.WithBatchObserver(prom)}
	if journal != nil {
		runnerOpts = append(runnerOpts, bridge.WithJournal(journal))
	}
	runner, err := bridge.New(cfg.BridgeRunner(), session, source, runnerOpts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	if cfg.Status.Enabled {
		var reader api.JournalReader
		if journal != nil {
			reader = journal
		}
		e := api.NewServer(api.NewHandler(runner, reader), reg, logger)
		g.Go(func() error { return api.Serve(gctx, e, cfg.Status.Addr, logger) })
	}
	return g.Wait()
}

// Provision resolves every configured tag, creating missing PI points, and
// writes the tag/point/WebID table to w. A tag that fails does not stop the
// others; the failures are returned joined.
func Provision(ctx context.Context, opts Options, w io.Writer) (err error) {
	cfg, logger, err := Load(opts)
	if err != nil {
		return err
	}
	source, err := collector.NewSource(cfg.Sources, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	session, err := newSession(cfg, logger, nil)
	if err != nil {
		return err
	}

	var errs []error
	var recs []model.TagRecord
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tTYPE\tPOINT\tWEBID")
	for _, t := range source.Tags() {
		point := t.PointName(cfg.PI.DeviceName)
		if rerr := session.Resolve(ctx, t); rerr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, rerr))
			fmt.Fprintf(tw, "%s\t%s\t%s\t(%s)\n", t.Name, t.Type, point, piwebapi.KindOf(rerr))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Type, point, t.WebID())
		recs = append(recs, model.TagRecord{Name: t.Name, DataType: t.Type.String(), PointName: point, WebID: t.WebID(), ResolvedAt: time.Now()})
	}
	if ferr := tw.Flush(); ferr != nil {
		return ferr
	}

	if cfg.Journal.Enabled && len(recs) > 0 {
		journal, jerr := openJournal(cfg)
		if jerr != nil {
			return errors.Join(append(errs, jerr)...)
		}
		defer func() { err = errors.Join(err, journal.Close()) }()
		if serr := journal.SaveTags(ctx, recs); serr != nil {
			errs = append(errs, fmt.Errorf("save tags: %w", serr))
		}
	}
	return errors.Join(errs...)
}

// PostValue resolves one configured tag and posts value to it with the
// current time.
func PostValue(ctx context.Context, opts Options, tagName, value string) (err error) {
	cfg, logger, err := Load(opts)
	if err != nil {
		return err
	}
	source, err := collector.NewSource(cfg.Sources, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	var tag *piwebapi.Tag
	for _, t := range source.Tags() {
		if t.Name == tagName {
			tag = t
			break
		}
	}
	if tag == nil {
		return fmt.Errorf("tag %q is not configured", tagName)
	}

	session, err := newSession(cfg, logger, nil)
	if err != nil {
		return err
	}
	if err := session.Resolve(ctx, tag); err != nil {
		return err
	}
	dp := piwebapi.NewDataPoint(value, time.Now())
	postErr := session.PostDataPoint(ctx, tag, dp)

	if cfg.Journal.Enabled {
		journal, jerr := openJournal(cfg)
		if jerr != nil {
			return errors.Join(postErr, jerr)
		}
		defer func() { err = errors.Join(err, journal.Close()) }()
		rec := model.PostRecord{
			BatchID:   uuid.NewString(),
			Mode:      string(bridge.ModeSingle),
			Tag:       tag.Name,
			PointName: tag.PointName(cfg.PI.DeviceName),
			WebID:     tag.WebID(),
			Value:     dp.Value,
			Timestamp: dp.Timestamp,
			Outcome:   piwebapi.KindOf(postErr).String(),
		}
		if serr := journal.SavePostRecords(ctx, []model.PostRecord{rec}); serr != nil {
			logger.Error("journal write failed", "err", serr)
		}
	}
	return postErr
}

// ExportOptions selects the journal rows written by Export.
type ExportOptions struct {
	Out    string
	Format string
	Tag    string
	Limit  int
}

// Export writes journal rows to a JSON and/or CSV file.
func Export(ctx context.Context, opts Options, eo ExportOptions) (err error) {
	cfg, _, err := Load(opts)
	if err != nil {
		return err
	}
	if _, serr := os.Stat(cfg.Journal.Path); serr != nil {
		return fmt.Errorf("journal %s: %w", cfg.Journal.Path, serr)
	}
	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, journal.Close()) }()

	recs, err := journal.RecentPosts(ctx, eo.Tag, eo.Limit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return output.Write(eo.Out, eo.Format, recs)
}
