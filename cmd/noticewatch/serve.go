package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/pkg/logger"
	"github.com/noticewatch/noticewatch/pkg/mid"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the feeds over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) serve(ctx context.Context) (err error) {
	cfg := c.cfg
	a, err := newApp(ctx, cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close(context.WithoutCancel(ctx)))
	}()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &server{feeds: []*feed{a.notices, a.events}, log: c.log, ctx: ctx}
	if cfg.Metrics.Enabled {
		s.metrics = a.metrics.Handler()
	}

	if cfg.Server.Schedule != "" {
		sched, err := startSchedule(ctx, cfg.Server.Schedule, cfg.Location(), s.feeds, c.log)
		if err != nil {
			return err
		}
		defer func() { <-sched.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mid.Chain(newRouter(s, cfg), mid.OTel("noticewatch")),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		c.log.Info("API server starting", logger.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		c.log.Info("Shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	c.log.Info("API server stopped")
	return nil
}

// startSchedule refreshes every feed, one after the other, on the cron spec.
// A feed already running is left alone.
func startSchedule(ctx context.Context, spec string, loc *time.Location, feeds []*feed, log logger.Logger) (*cron.Cron, error) {
	cl := cronLogger{log: log.With(logger.String("component", "schedule"))}
	sched := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := sched.AddFunc(spec, func() { refreshFeeds(ctx, feeds, log) }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	sched.Start()
	log.Info("Scheduled refresh enabled", logger.String("schedule", spec))
	return sched, nil
}

func refreshFeeds(ctx context.Context, feeds []*feed, log logger.Logger) {
	for _, f := range feeds {
		if ctx.Err() != nil {
			return
		}
		_, err := f.agg.Run(ctx)
		switch {
		case errors.Is(err, aggregate.ErrRunInProgress):
		case err != nil:
			log.Error("Scheduled refresh failed", logger.String("feed", f.name), logger.Error(err))
		}
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
