package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources/board"
	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources/g2b"
	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources/iris"
	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources/keit"
	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources/khidievents"
	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources/kiat"
	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources/kmdia"
	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/engine/announce"
	"github.com/noticewatch/noticewatch/engine/graph"
	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/resolve"
	"github.com/noticewatch/noticewatch/engine/score"
	"github.com/noticewatch/noticewatch/engine/store"
	"github.com/noticewatch/noticewatch/pkg/fn"
	"github.com/noticewatch/noticewatch/pkg/httpx"
	"github.com/noticewatch/noticewatch/pkg/logger"
	"github.com/noticewatch/noticewatch/pkg/metrics"
	"github.com/noticewatch/noticewatch/pkg/resilience"
)

// feed is one wired aggregator with its persistence.
type feed struct {
	name  string
	agg   *aggregate.Aggregator
	store *store.JSONStore
	skips *store.SkipLog
}

// app holds everything a running command needs.
type app struct {
	cfg         *Config
	log         logger.Logger
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	client      *httpx.Client
	resolveOpts resolve.Options
	notices     *feed
	events      *feed
	closers     []func(context.Context) error
}

// openFeed opens the persistence of a feed without wiring its sources.
func openFeed(cfg *Config, name string, log logger.Logger) *feed {
	fc := cfg.feed(name)
	return &feed{
		name:  name,
		store: store.NewJSONStore(fc.Output, log),
		skips: store.NewSkipLog(fc.SkipLog),
	}
}

// newApp wires the client, the engine and both feeds. Optional sinks are
// connected when configured; Close releases them.
func newApp(ctx context.Context, cfg *Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)
	a.client = httpx.New(httpx.Options{
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		Timeout:        cfg.HTTP.Timeout,
		MaxRedirects:   cfg.HTTP.MaxRedirects,
		Retry: fn.RetryOpts{
			MaxAttempts: cfg.HTTP.RetryAttempts,
			InitialWait: cfg.HTTP.RetryWait,
			MaxWait:     10 * cfg.HTTP.RetryWait,
			Jitter:      true,
		},
		Limiter:  resilience.LimiterOpts{Interval: cfg.HTTP.Interval, Burst: cfg.HTTP.Burst},
		Breaker:  resilience.BreakerOpts{FailThreshold: cfg.HTTP.BreakerFailures, Timeout: cfg.HTTP.BreakerTimeout, HalfOpenMax: 1},
		Observer: a.metrics,
		Logger:   log,
	})

	rules, err := score.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	scorer, err := score.New(rules)
	if err != nil {
		return nil, fmt.Errorf("build scorer: %w", err)
	}
	a.resolveOpts = resolveOptions(rules)

	sinks, err := a.connectSinks(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	if a.notices, err = a.wireFeed(feedNotices, scorer, sinks); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	// Events are listed by date and never scored.
	if a.events, err = a.wireFeed(feedEvents, nil, sinks); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// resolveOptions carries the rules file's anchor table to the resolver.
func resolveOptions(rules score.Rules) resolve.Options {
	var opts resolve.Options
	for _, aw := range rules.Anchors {
		opts.Anchors = append(opts.Anchors, resolve.AnchorWeight{Keyword: aw.Keyword, Weight: aw.Weight})
	}
	return opts
}

func (a *app) wireFeed(name string, scorer *score.Scorer, sinks []aggregate.Sink) (*feed, error) {
	fc := a.cfg.feed(name)
	log := a.log.With(logger.String("feed", name))
	f := openFeed(a.cfg, name, log)

	srcs := make([]aggregate.Source, 0, len(fc.Sources))
	for _, s := range fc.Sources {
		src, err := a.source(s)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", name, err)
		}
		srcs = append(srcs, src)
	}
	rank, err := aggregate.ParseRank(fc.Rank)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", name, err)
	}

	deps := aggregate.Deps{
		Sources:    srcs,
		Normalizer: normalize.Default(),
		Resolver:   resolve.New(a.client, resolve.NewHTTPValidator(a.client), a.resolveOpts, log),
		Store:      f.store,
		Skips:      f.skips,
		Sinks:      sinks,
		Metrics:    a.metrics,
		Logger:     a.log,
	}
	if scorer != nil {
		deps.Scorer = scorer
	}
	f.agg, err = aggregate.New(aggregate.Options{
		Feed:        name,
		Threshold:   fc.Threshold,
		MaxPages:    fc.MaxPages,
		Concurrency: a.cfg.Concurrency,
		Rank:        rank,
		Location:    a.cfg.Location(),
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", name, err)
	}
	return f, nil
}

// source builds the adapter registered under name.
func (a *app) source(name string) (aggregate.Source, error) {
	switch name {
	case "iris":
		return iris.NewScraper(iris.Config{Programs: a.cfg.IRIS.Programs, IncludeExtra: a.cfg.IRIS.IncludeExtra}, a.client, a.log), nil
	case "khidi":
		return board.NewScraper(board.KHIDI(), a.client, a.log)
	case "kiat":
		return kiat.NewScraper(kiat.Config{}, a.client, a.log), nil
	case "keit":
		return keit.NewScraper(keit.Config{Pages: 1}, a.client, a.log), nil
	case "g2b":
		c := a.cfg.G2B
		mode, err := g2b.ParseMode(c.Prefer)
		if err != nil {
			return nil, err
		}
		return g2b.NewScraper(g2b.Config{
			BaseURL:    c.BaseURL,
			APIKey:     c.APIKey,
			DaysBack:   c.DaysBack,
			Rows:       c.Rows,
			ScanPages:  c.ScanPages,
			Prefer:     mode,
			Keywords:   c.Keywords,
			MaxDetails: c.MaxDetails,
			Location:   a.cfg.Location(),
		}, a.client, a.log), nil
	case "khidi_events":
		return khidievents.NewScraper(khidievents.Config{}, a.client, a.log), nil
	case "kmdia":
		return kmdia.NewScraper(kmdia.Config{}, a.client, a.log), nil
	}
	return nil, fmt.Errorf("unknown source %q", name)
}

// connectSinks connects the graph and announcement sinks that are
// configured.
func (a *app) connectSinks(ctx context.Context) ([]aggregate.Sink, error) {
	var sinks []aggregate.Sink

	if c := a.cfg.Neo4j; c.URL != "" {
		driver, err := neo4j.NewDriverWithContext(c.URL, neo4j.BasicAuth(c.User, c.Pass, ""))
		if err != nil {
			return nil, fmt.Errorf("neo4j driver: %w", err)
		}
		a.closers = append(a.closers, driver.Close)
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return nil, fmt.Errorf("neo4j connect: %w", err)
		}
		notices, err := graph.NewNoticeRepo(driver, c.Database)
		if err != nil {
			return nil, fmt.Errorf("notice graph: %w", err)
		}
		sinks = append(sinks, graph.NewSink(notices, a.log))
		a.log.Info("Notice graph sink enabled", logger.String("url", c.URL))
	}

	if c := a.cfg.NATS; c.URL != "" {
		nc, err := nats.Connect(c.URL, nats.Name("noticewatch"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return nc.Drain() })
		sinks = append(sinks, announce.NewPublisher(nc, c.Subject))
		a.log.Info("Refresh announcements enabled", logger.String("subject", c.Subject))
	}
	return sinks, nil
}

// feedByName returns the wired feed called name, or nil.
func (a *app) feedByName(name string) *feed {
	switch name {
	case feedNotices:
		return a.notices
	case feedEvents:
		return a.events
	}
	return nil
}

// Close releases the sink connections in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
