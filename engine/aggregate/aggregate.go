// Package aggregate runs a feed: it collects records from every source,
// normalizes, resolves, enriches and scores them, then deduplicates,
// filters, ranks and persists the resulting bundle.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/engine/resolve"
	"github.com/noticewatch/noticewatch/engine/score"
	"github.com/noticewatch/noticewatch/pkg/fn"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

var tracer = otel.Tracer("engine/aggregate")

// Drop reasons reported to the Recorder.
const (
	DropPlaceholderLink = "placeholder-link"
	DropDuplicate       = "duplicate"
	DropBelowThreshold  = "below-threshold"
)

// Source produces raw records for one site.
type Source interface {
	Name() string
	Fetch(ctx context.Context, maxPages int) ([]notice.RawRecord, error)
}

// Resolving is implemented by sources whose links point at an
// intermediate detail page that must be resolved to the original link.
type Resolving interface {
	RequiresResolution() bool
}

// Enricher is implemented by sources that can fetch additional meta and
// scoring text for a notice. Failures are ignored.
type Enricher interface {
	Enrich(ctx context.Context, n notice.Notice) (notice.Meta, string, error)
}

// LinkResolver resolves detail pages.
type LinkResolver interface {
	Resolve(ctx context.Context, t resolve.Target) resolve.Outcome
}

// Scorer scores a notice in place.
type Scorer interface {
	Apply(n *notice.Notice, extra string) score.Result
}

// Store persists a bundle.
type Store interface {
	Save(ctx context.Context, b notice.Bundle) error
}

// SkipLog records notices dropped for lack of an original link.
type SkipLog interface {
	Append(e notice.SkipEntry) error
}

// Sink receives every persisted run. Sink failures never fail the run.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, r *Report) error
}

// Recorder receives pipeline measurements.
type Recorder interface {
	SourceDone(feed, source string, records int, errKind string, elapsed time.Duration)
	Resolved(feed, linkType string, kept bool)
	Drop(feed, reason string)
	RunDone(feed string, items int, at time.Time)
	RunSkipped(feed string)
	SinkFailed(feed, sink string)
}

// Options configures one feed.
type Options struct {
	Feed string
	// Threshold is the minimum score kept. Nil disables filtering.
	Threshold   *int
	MaxPages    int
	Concurrency int
	Rank        Rank
	Location    *time.Location
}

// Deps holds the collaborators of an Aggregator. Only Sources is required;
// Resolver is required when any source implements Resolving.
type Deps struct {
	Sources    []Source
	Normalizer *normalize.Normalizer
	Resolver   LinkResolver
	Scorer     Scorer
	Store      Store
	Skips      SkipLog
	Sinks      []Sink
	Metrics    Recorder
	Logger     logger.Logger
}

// SourceReport summarizes one source's contribution to a run.
type SourceReport struct {
	Source   string        `json:"source"`
	Fetched  int           `json:"fetched"`
	Kept     int           `json:"kept"`
	Skipped  int           `json:"skipped"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the outcome of a persisted run.
type Report struct {
	Feed       string         `json:"feed"`
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Bundle     notice.Bundle  `json:"-"`
	Sources    []SourceReport `json:"sources"`
}

// Aggregator runs one feed. Runs are serialized by a Guard.
type Aggregator struct {
	opts  Options
	deps  Deps
	guard Guard
	now   func() time.Time
	newID func() string
}

// New validates deps and creates an Aggregator.
func New(opts Options, deps Deps) (*Aggregator, error) {
	if opts.Feed == "" {
		return nil, errors.New("aggregate: feed name is required")
	}
	if len(deps.Sources) == 0 {
		return nil, fmt.Errorf("aggregate: feed %s has no sources", opts.Feed)
	}
	for _, src := range deps.Sources {
		if requiresResolution(src) && deps.Resolver == nil {
			return nil, fmt.Errorf("aggregate: source %s requires a resolver", src.Name())
		}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Rank == "" {
		opts.Rank = RankScore
	}
	if opts.Location == nil {
		opts.Location = DefaultLocation()
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	deps.Logger = deps.Logger.With(logger.String("feed", opts.Feed))
	return &Aggregator{
		opts:  opts,
		deps:  deps,
		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}

// DefaultLocation is Asia/Seoul, or a fixed +09:00 zone if the zone
// database is unavailable.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Feed returns the feed name.
func (a *Aggregator) Feed() string { return a.opts.Feed }

// Busy reports whether a run is in flight.
func (a *Aggregator) Busy() bool { return a.guard.Busy() }

// Run collects, persists and delivers one bundle. It returns
// ErrRunInProgress without doing anything when a run is already in flight.
// A persistence failure is returned; source and sink failures are not.
func (a *Aggregator) Run(ctx context.Context) (*Report, error) {
	if !a.guard.TryAcquire() {
		a.skipped()
		return nil, ErrRunInProgress
	}
	defer a.guard.Release()
	return a.run(ctx)
}

// Start launches Run in the background. It returns false, starting
// nothing, when a run is already in flight. The run outlives ctx's
// cancellation but keeps its values.
func (a *Aggregator) Start(ctx context.Context) bool {
	if !a.guard.TryAcquire() {
		a.skipped()
		return false
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer a.guard.Release()
		if _, err := a.run(ctx); err != nil {
			a.deps.Logger.Error("background run failed", logger.Error(err))
		}
	}()
	return true
}

func (a *Aggregator) skipped() {
	a.deps.Metrics.RunSkipped(a.opts.Feed)
	a.deps.Logger.Info("run skipped, another run is in flight")
}

func (a *Aggregator) run(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "aggregate.run", trace.WithAttributes(attribute.String("feed", a.opts.Feed)))
	defer span.End()

	started := a.now()
	bundle, sources := a.Collect(ctx)
	rep := &Report{
		Feed:      a.opts.Feed,
		RunID:     bundle.RunID,
		StartedAt: started,
		Bundle:    bundle,
		Sources:   sources,
	}
	span.SetAttributes(attribute.String("run_id", bundle.RunID), attribute.Int("items", bundle.Count))

	if a.deps.Store != nil {
		if err := a.deps.Store.Save(ctx, bundle); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.deps.Metrics.SinkFailed(a.opts.Feed, "store")
			return rep, fmt.Errorf("persist %s: %w", a.opts.Feed, err)
		}
	}
	rep.FinishedAt = a.now()
	a.deps.Metrics.RunDone(a.opts.Feed, bundle.Count, rep.FinishedAt)
	a.deps.Logger.Info("run complete",
		logger.String("run_id", rep.RunID),
		logger.Int("items", bundle.Count),
		logger.Duration("elapsed", rep.FinishedAt.Sub(started)),
	)

	for _, s := range a.deps.Sinks {
		if err := s.Deliver(ctx, rep); err != nil {
			a.deps.Metrics.SinkFailed(a.opts.Feed, s.Name())
			a.deps.Logger.Warn("sink failed", logger.String("sink", s.Name()), logger.Error(err))
		}
	}
	return rep, nil
}

// Collect runs the pipeline without persisting. Items are deduplicated by
// notice.Key (first occurrence wins), filtered by the threshold and
// ranked.
func (a *Aggregator) Collect(ctx context.Context) (notice.Bundle, []SourceReport) {
	runID := a.newID()
	ctx, span := tracer.Start(ctx, "aggregate.collect", trace.WithAttributes(
		attribute.String("feed", a.opts.Feed),
		attribute.String("run_id", runID),
	))
	defer span.End()

	batches := fn.Gather(ctx, a.deps.Sources, a.opts.Concurrency, a.collectSource)

	var items []notice.Notice
	reports := make([]SourceReport, 0, len(batches))
	for _, b := range batches {
		items = append(items, b.items...)
		reports = append(reports, b.report)
	}

	items, dupes := fn.DistinctBy(items, notice.Notice.Key)
	for range dupes {
		a.deps.Metrics.Drop(a.opts.Feed, DropDuplicate)
	}
	if t := a.opts.Threshold; t != nil {
		var below int
		items, below = fn.Keep(items, func(n notice.Notice) bool { return score.Interesting(n.ScoreValue(), *t) })
		for range below {
			a.deps.Metrics.Drop(a.opts.Feed, DropBelowThreshold)
		}
	}
	Sort(items, a.opts.Rank)
	if items == nil {
		items = []notice.Notice{}
	}

	return notice.Bundle{
		Count:       len(items),
		GeneratedAt: a.now().In(a.opts.Location).Format(notice.TimestampLayout),
		Items:       items,
		Threshold:   a.opts.Threshold,
		RunID:       runID,
	}, reports
}

type sourceBatch struct {
	items  []notice.Notice
	report SourceReport
}

func (a *Aggregator) collectSource(ctx context.Context, src Source) sourceBatch {
	name := src.Name()
	log := a.deps.Logger.With(logger.String("source", name))
	start := time.Now()
	out := sourceBatch{report: SourceReport{Source: name}}

	recs, err := fn.Traced(ctx, "aggregate.source", func(ctx context.Context) fn.Result[[]notice.RawRecord] {
		return fn.Of(src.Fetch(ctx, a.opts.MaxPages))
	}, attribute.String("feed", a.opts.Feed), attribute.String("source", name)).Get()
	if err != nil {
		out.report.Error = err.Error()
		out.report.Duration = time.Since(start)
		kind := "fetch"
		if notice.IsConfigFailure(err) {
			kind = "config"
			log.Error("source is misconfigured", logger.Error(err))
		} else {
			log.Warn("source failed", logger.Error(err))
		}
		a.deps.Metrics.SourceDone(a.opts.Feed, name, 0, kind, out.report.Duration)
		return out
	}

	out.report.Fetched = len(recs)
	resolving := requiresResolution(src)
	enricher, _ := src.(Enricher)
	for _, rec := range recs {
		n, ok := a.process(ctx, log, rec, resolving, enricher)
		if !ok {
			out.report.Skipped++
			continue
		}
		out.items = append(out.items, n)
	}
	out.report.Kept = len(out.items)
	out.report.Duration = time.Since(start)
	a.deps.Metrics.SourceDone(a.opts.Feed, name, len(out.items), "", out.report.Duration)
	log.Info("source collected",
		logger.Int("fetched", out.report.Fetched),
		logger.Int("kept", out.report.Kept),
		logger.Duration("elapsed", out.report.Duration),
	)
	return out
}

// process turns one raw record into a notice, reporting false when the
// record is dropped.
func (a *Aggregator) process(ctx context.Context, log logger.Logger, rec notice.RawRecord, resolving bool, enricher Enricher) (notice.Notice, bool) {
	n := a.deps.Normalizer.Normalize(rec)

	if resolving {
		out := a.deps.Resolver.Resolve(ctx, resolve.Target{
			Title:           n.Title,
			Date:            n.Date,
			DetailURL:       n.Link,
			ListInstitution: n.Institution,
		})
		a.deps.Metrics.Resolved(a.opts.Feed, linkTypeBase(out.LinkType), out.Resolved)
		if !out.Resolved {
			a.recordSkip(log, out.Skip)
			return n, false
		}
		n.Link = out.Link
		n.Institution = out.Institution
		n.Meta.Merge(out.Meta)
	}

	var extra string
	if enricher != nil {
		meta, text, err := enricher.Enrich(ctx, n)
		if err != nil {
			log.Debug("enrichment failed", logger.String("link", n.Link), logger.Error(err))
		} else {
			n.Meta.Merge(meta)
			extra = text
			if n.Institution == "" {
				n.Institution = normalize.InstitutionOf(n.Meta)
			}
		}
	}

	if notice.IsPlaceholderLink(n.Link) {
		a.deps.Metrics.Drop(a.opts.Feed, DropPlaceholderLink)
		log.Warn("dropping notice without a usable link",
			logger.String("title", n.Title), logger.String("link", n.Link))
		return n, false
	}
	if n.Institution == "" {
		n.Institution = notice.OtherInstitution
	}
	if a.deps.Scorer != nil {
		a.deps.Scorer.Apply(&n, extra)
	}
	return n, true
}

func (a *Aggregator) recordSkip(log logger.Logger, e *notice.SkipEntry) {
	if e == nil {
		return
	}
	a.deps.Metrics.Drop(a.opts.Feed, e.Reason)
	log.Info("notice skipped",
		logger.String("title", e.Title),
		logger.String("detail_url", e.DetailURL),
		logger.String("note", e.Note),
	)
	if a.deps.Skips == nil {
		return
	}
	if err := a.deps.Skips.Append(*e); err != nil {
		log.Warn("skip log append failed", logger.Error(err))
	}
}

func requiresResolution(src Source) bool {
	r, ok := src.(Resolving)
	return ok && r.RequiresResolution()
}

// linkTypeBase strips the label from a link type such as "meta:원문링크".
func linkTypeBase(t string) string {
	base, _, _ := strings.Cut(t, ":")
	return base
}

type nopRecorder struct{}

func (nopRecorder) SourceDone(string, string, int, string, time.Duration) {}
func (nopRecorder) Resolved(string, string, bool)                         {}
func (nopRecorder) Drop(string, string)                                   {}
func (nopRecorder) RunDone(string, int, time.Time)                        {}
func (nopRecorder) RunSkipped(string)                                     {}
func (nopRecorder) SinkFailed(string, string)                             {}
