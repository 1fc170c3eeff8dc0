package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/engine/store"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

func init() { gin.SetMode(gin.TestMode) }

type stubSource struct {
	records []notice.RawRecord
	block   chan struct{}
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(ctx context.Context, _ int) ([]notice.RawRecord, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.records, nil
}

func newTestFeed(t *testing.T, name string, src aggregate.Source) *feed {
	t.Helper()
	dir := t.TempDir()
	f := &feed{
		name:  name,
		store: store.NewJSONStore(filepath.Join(dir, name+".json"), nil),
		skips: store.NewSkipLog(filepath.Join(dir, name+"_skipped.jsonl")),
	}
	agg, err := aggregate.New(aggregate.Options{Feed: name, Rank: aggregate.RankDate},
		aggregate.Deps{Sources: []aggregate.Source{src}, Store: f.store, Skips: f.skips})
	require.NoError(t, err)
	f.agg = agg
	return f
}

func newTestServer(feeds ...*feed) http.Handler {
	s := &server{feeds: feeds, log: logger.NewNop(), ctx: context.Background()}
	cfg := &Config{}
	cfg.SetDefaults()
	return newRouter(s, cfg)
}

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func waitIdle(t *testing.T, f *feed) {
	t.Helper()
	require.Eventually(t, func() bool { return !f.agg.Busy() }, 5*time.Second, 10*time.Millisecond)
}

func TestBundleEmptyWhenNothingPersisted(t *testing.T) {
	h := newTestServer(newTestFeed(t, feedNotices, &stubSource{}))

	rec := do(h, http.MethodGet, "/api/notices")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(store.OriginEmpty), rec.Header().Get("X-Bundle-Origin"))

	var b notice.Bundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, 0, b.Count)
	assert.Empty(t, b.Items)
}

func TestBundleServesPersistedItems(t *testing.T) {
	f := newTestFeed(t, feedEvents, &stubSource{})
	require.NoError(t, f.store.Save(context.Background(), notice.Bundle{
		Count:       1,
		GeneratedAt: "2025-03-10 09:00:00",
		Items: []notice.Notice{{
			Source: "KMDIA_EDU", Title: "GMP 실무 교육", Link: "https://edu.example.kr/view?a=1&b=2",
			Date: "2025-03-04", Meta: notice.NewMeta("location", "협회 교육장"),
		}},
	}))
	h := newTestServer(f)

	rec := do(h, http.MethodGet, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(store.OriginPrimary), rec.Header().Get("X-Bundle-Origin"))
	assert.Contains(t, rec.Body.String(), "view?a=1&b=2")

	var b notice.Bundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	require.Len(t, b.Items, 1)
	assert.Equal(t, "협회 교육장", b.Items[0].Meta.Get("location"))
}

func TestRefreshStartsOnceAndPersists(t *testing.T) {
	src := &stubSource{
		block: make(chan struct{}),
		records: []notice.RawRecord{
			notice.NewRawRecord("KHIDI", "title", "바이오헬스 지원사업 공고", "link", "https://www.khidi.or.kr/board/view?linkId=1", "date", "2025.03.05"),
		},
	}
	f := newTestFeed(t, feedNotices, src)
	h := newTestServer(f)

	first := do(h, http.MethodPost, "/refresh/notices")
	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Contains(t, first.Body.String(), refreshStarted)

	second := do(h, http.MethodPost, "/refresh/notices")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), refreshSkipped)

	health := do(h, http.MethodGet, "/healthz")
	assert.JSONEq(t, `{"status":"ok","refreshing":{"notices":true}}`, health.Body.String())

	close(src.block)
	waitIdle(t, f)

	b, origin := f.store.Load(context.Background())
	assert.Equal(t, store.OriginPrimary, origin)
	require.Len(t, b.Items, 1)
	assert.Equal(t, "2025-03-05", b.Items[0].Date)
}

func TestRefreshAllReportsEachFeed(t *testing.T) {
	busy := &stubSource{block: make(chan struct{})}
	notices := newTestFeed(t, feedNotices, busy)
	events := newTestFeed(t, feedEvents, &stubSource{})
	h := newTestServer(notices, events)

	require.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/refresh/notices").Code)

	rec := do(h, http.MethodPost, "/refresh")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"notices":"skipped","events":"started"}`, rec.Body.String())

	close(busy.block)
	waitIdle(t, notices)
	waitIdle(t, events)

	rec = do(h, http.MethodPost, "/refresh")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"notices":"started","events":"started"}`, rec.Body.String())
	waitIdle(t, notices)
	waitIdle(t, events)
}

func TestRefreshAllSkippedWhenEverythingRuns(t *testing.T) {
	busy := &stubSource{block: make(chan struct{})}
	f := newTestFeed(t, feedNotices, busy)
	h := newTestServer(f)
	defer func() {
		close(busy.block)
		waitIdle(t, f)
	}()

	require.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/refresh").Code)
	rec := do(h, http.MethodPost, "/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notices":"skipped"}`, rec.Body.String())
}

func TestMetricsRouteOnlyWhenEnabled(t *testing.T) {
	f := newTestFeed(t, feedNotices, &stubSource{})
	assert.Equal(t, http.StatusNotFound, do(newTestServer(f), http.MethodGet, "/metrics").Code)

	s := &server{
		feeds: []*feed{f}, log: logger.NewNop(), ctx: context.Background(),
		metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("noticewatch_feed_items 0\n"))
		}),
	}
	cfg := &Config{}
	cfg.SetDefaults()
	rec := do(newRouter(s, cfg), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "noticewatch_feed_items"))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(newTestFeed(t, feedNotices, &stubSource{}))
	rec := do(h, http.MethodOptions, "/refresh")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
