package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noticewatch/noticewatch/pkg/logger"
	"github.com/noticewatch/noticewatch/pkg/mid"
)

// Refresh answers.
const (
	refreshStarted = "started"
	refreshSkipped = "skipped"
)

// server exposes the persisted feeds and their refresh triggers.
type server struct {
	feeds   []*feed
	log     logger.Logger
	metrics http.Handler
	// ctx carries the values of background runs; runs outlive requests.
	ctx context.Context
}

func newRouter(s *server, cfg *Config) *gin.Engine {
	r := gin.New()
	r.Use(mid.Recover(s.log), mid.Logger(s.log), mid.CORS(cfg.Server.CORSOrigin))

	r.GET("/healthz", s.health)
	api := r.Group("/api")
	refresh := r.Group("/refresh")
	for _, f := range s.feeds {
		api.GET("/"+f.name, s.bundle(f))
		refresh.POST("/"+f.name, s.refresh(f))
	}
	r.POST("/refresh", s.refreshAll)
	if s.metrics != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(s.metrics))
	}
	return r
}

func (s *server) health(c *gin.Context) {
	refreshing := gin.H{}
	for _, f := range s.feeds {
		refreshing[f.name] = f.agg.Busy()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "refreshing": refreshing})
}

// bundle serves the persisted bundle of f. Reading never fails: a missing
// or unreadable file yields the backup or an empty bundle.
func (s *server) bundle(f *feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, origin := f.store.Load(c.Request.Context())
		c.Header("X-Bundle-Origin", string(origin))
		c.PureJSON(http.StatusOK, b)
	}
}

// refresh starts a background run of f. A run already in flight makes the
// request a no-op.
func (s *server) refresh(f *feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !f.agg.Start(s.ctx) {
			c.JSON(http.StatusOK, gin.H{"feed": f.name, "status": refreshSkipped})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"feed": f.name, "status": refreshStarted})
	}
}

// refreshAll starts every feed that is not already running.
func (s *server) refreshAll(c *gin.Context) {
	status := http.StatusOK
	out := gin.H{}
	for _, f := range s.feeds {
		if f.agg.Start(s.ctx) {
			out[f.name] = refreshStarted
			status = http.StatusAccepted
			continue
		}
		out[f.name] = refreshSkipped
	}
	c.JSON(status, out)
}
