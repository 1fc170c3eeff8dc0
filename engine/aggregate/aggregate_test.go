package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/engine/resolve"
	"github.com/noticewatch/noticewatch/engine/score"
)

type fakeSource struct {
	name    string
	records []notice.RawRecord
	err     error
	block   chan struct{}
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(ctx context.Context, _ int) ([]notice.RawRecord, error) {
	if s.block != nil {
		<-s.block
	}
	return s.records, s.err
}

type resolvingSource struct {
	fakeSource
}

func (resolvingSource) RequiresResolution() bool { return true }

type enrichingSource struct {
	fakeSource
	meta  notice.Meta
	extra string
	err   error
}

func (s *enrichingSource) Enrich(context.Context, notice.Notice) (notice.Meta, string, error) {
	return s.meta.Clone(), s.extra, s.err
}

type fakeResolver struct {
	outcomes map[string]resolve.Outcome
}

func (r *fakeResolver) Resolve(_ context.Context, t resolve.Target) resolve.Outcome {
	if o, ok := r.outcomes[t.DetailURL]; ok {
		return o
	}
	return resolve.Outcome{
		LinkType: resolve.TypeDetailFallback,
		Skip: &notice.SkipEntry{
			Reason:    notice.SkipReasonNoOriginalLink,
			Title:     t.Title,
			DetailURL: t.DetailURL,
			Note:      resolve.NoteNoValidFallback,
		},
	}
}

type memStore struct {
	mu    sync.Mutex
	saved []notice.Bundle
	err   error
}

func (s *memStore) Save(_ context.Context, b notice.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, b)
	return nil
}

type memSkips struct {
	entries []notice.SkipEntry
}

func (s *memSkips) Append(e notice.SkipEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

type fakeSink struct {
	name    string
	err     error
	reports []*Report
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Deliver(_ context.Context, r *Report) error {
	s.reports = append(s.reports, r)
	return s.err
}

type countingRecorder struct {
	nopRecorder
	mu       sync.Mutex
	drops    map[string]int
	errKinds map[string]string
	skipped  int
	sinkErrs []string
}

func newRecorder() *countingRecorder {
	return &countingRecorder{drops: map[string]int{}, errKinds: map[string]string{}}
}

func (r *countingRecorder) SourceDone(_, source string, _ int, errKind string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errKinds[source] = errKind
}

func (r *countingRecorder) Drop(_, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops[reason]++
}

func (r *countingRecorder) RunSkipped(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
}

func (r *countingRecorder) SinkFailed(_, sink string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinkErrs = append(r.sinkErrs, sink)
}

func rec(source string, kv ...string) notice.RawRecord {
	return notice.NewRawRecord(source, kv...)
}

func newScorer(t *testing.T) *score.Scorer {
	t.Helper()
	s, err := score.New(score.DefaultRules())
	require.NoError(t, err)
	return s
}

func newAggregator(t *testing.T, opts Options, deps Deps) *Aggregator {
	t.Helper()
	if opts.Feed == "" {
		opts.Feed = "notices"
	}
	a, err := New(opts, deps)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2025, 3, 10, 0, 30, 0, 0, time.UTC) }
	a.newID = func() string { return "run-1" }
	return a
}

func intPtr(v int) *int { return &v }

func TestCollectScoresDedupesAndRanks(t *testing.T) {
	iris := &fakeSource{name: "iris", records: []notice.RawRecord{
		rec("IRIS", "title", "의료기기 지원사업 공고", "link", "https://iris/1", "date", "2025.03.10", "ministry", "보건복지부"),
		rec("IRIS", "title", "반도체 공정 장비", "link", "https://iris/2", "date", "2025.03.09", "ministry", "산업통상자원부"),
	}}
	khidi := &fakeSource{name: "khidi", records: []notice.RawRecord{
		rec("KHIDI", "title", "의료기기 지원사업 공고", "link", "https://iris/1", "date", "2025-03-10", "ministry", "보건복지부"),
		rec("KHIDI", "title", "웨어러블 실증", "link", "https://khidi/3", "date", "2025-03-11"),
	}}
	recorder := newRecorder()
	a := newAggregator(t, Options{Threshold: intPtr(0)}, Deps{
		Sources: []Source{iris, khidi},
		Scorer:  newScorer(t),
		Metrics: recorder,
	})

	b, reports := a.Collect(context.Background())

	require.Equal(t, 2, b.Count)
	assert.Equal(t, []string{"의료기기 지원사업 공고", "웨어러블 실증"}, titles(b.Items))
	assert.Equal(t, "IRIS", b.Items[0].Source)
	assert.Equal(t, 4, *b.Items[0].Score)
	assert.Equal(t, notice.OtherInstitution, b.Items[1].Institution)
	assert.Equal(t, "2025-03-10 09:30:00", b.GeneratedAt)
	assert.Equal(t, "run-1", b.RunID)
	require.NotNil(t, b.Threshold)
	assert.Equal(t, 0, *b.Threshold)

	assert.Equal(t, 1, recorder.drops[DropDuplicate])
	assert.Equal(t, 1, recorder.drops[DropBelowThreshold])
	require.Len(t, reports, 2)
	assert.Equal(t, SourceReport{Source: "iris", Fetched: 2, Kept: 2, Duration: reports[0].Duration}, reports[0])
}

func TestCollectNilThresholdKeepsEverything(t *testing.T) {
	src := &fakeSource{name: "s", records: []notice.RawRecord{
		rec("S", "title", "반도체 공정", "link", "https://s/1"),
	}}
	a := newAggregator(t, Options{}, Deps{Sources: []Source{src}, Scorer: newScorer(t)})

	b, _ := a.Collect(context.Background())

	require.Equal(t, 1, b.Count)
	assert.Equal(t, -1, *b.Items[0].Score)
	assert.Nil(t, b.Threshold)
}

func TestCollectSourceFailureContributesNothing(t *testing.T) {
	ok := &fakeSource{name: "ok", records: []notice.RawRecord{rec("OK", "title", "t", "link", "https://ok/1")}}
	broken := &fakeSource{name: "broken", records: []notice.RawRecord{rec("B", "title", "x", "link", "https://b/1")}, err: errors.New("boom")}
	g2b := &fakeSource{name: "g2b", err: notice.NewConfigError("g2b", "G2B_API_KEY", notice.ErrMissingCredential)}
	recorder := newRecorder()
	a := newAggregator(t, Options{}, Deps{Sources: []Source{ok, broken, g2b}, Metrics: recorder})

	b, reports := a.Collect(context.Background())

	assert.Equal(t, []string{"t"}, titles(b.Items))
	assert.Equal(t, "boom", reports[1].Error)
	assert.Equal(t, "fetch", recorder.errKinds["broken"])
	assert.Equal(t, "config", recorder.errKinds["g2b"])
	assert.Equal(t, "", recorder.errKinds["ok"])
}

func TestCollectResolvesAndSkips(t *testing.T) {
	src := &resolvingSource{fakeSource{name: "khidi_events", records: []notice.RawRecord{
		rec("KHIDI_EDU", "title", "세미나", "link", "https://khidi/view/1", "date", "2025-04-01", "institution", "기타"),
		rec("KHIDI_EDU", "title", "설명회", "link", "https://khidi/view/2", "date", "2025-04-02"),
	}}}
	meta := notice.NewMeta(resolve.MetaDetailURL, "https://khidi/view/1", resolve.MetaGoLinkType, "meta:원문링크")
	resolver := &fakeResolver{outcomes: map[string]resolve.Outcome{
		"https://khidi/view/1": {
			Resolved:    true,
			Link:        "https://event.example.com/apply",
			LinkType:    "meta:원문링크",
			Institution: "대한의료기기협회",
			Meta:        meta,
		},
	}}
	skips := &memSkips{}
	recorder := newRecorder()
	a := newAggregator(t, Options{Feed: "events", Rank: RankDate}, Deps{
		Sources:  []Source{src},
		Resolver: resolver,
		Skips:    skips,
		Metrics:  recorder,
	})

	b, reports := a.Collect(context.Background())

	require.Equal(t, 1, b.Count)
	n := b.Items[0]
	assert.Equal(t, "https://event.example.com/apply", n.Link)
	assert.Equal(t, "대한의료기기협회", n.Institution)
	assert.Equal(t, "meta:원문링크", n.Meta.Get(resolve.MetaGoLinkType))
	assert.Nil(t, n.Score)

	require.Len(t, skips.entries, 1)
	assert.Equal(t, "설명회", skips.entries[0].Title)
	assert.Equal(t, 1, recorder.drops[notice.SkipReasonNoOriginalLink])
	assert.Equal(t, 1, reports[0].Skipped)
}

func TestCollectDropsPlaceholderLinks(t *testing.T) {
	src := &fakeSource{name: "s", records: []notice.RawRecord{
		rec("S", "title", "no link"),
		rec("S", "title", "dash", "link", "-"),
		rec("S", "title", "js", "link", "javascript:void(0)"),
		rec("S", "title", "real", "link", "https://s/1"),
	}}
	recorder := newRecorder()
	a := newAggregator(t, Options{}, Deps{Sources: []Source{src}, Metrics: recorder})

	b, _ := a.Collect(context.Background())

	assert.Equal(t, []string{"real"}, titles(b.Items))
	assert.Equal(t, 3, recorder.drops[DropPlaceholderLink])
	for _, n := range b.Items {
		assert.False(t, notice.IsPlaceholderLink(n.Link))
	}
}

func TestCollectEnrichment(t *testing.T) {
	src := &enrichingSource{
		fakeSource: fakeSource{name: "iris", records: []notice.RawRecord{
			rec("IRIS", "title", "2025년 사업 공고", "link", "https://iris/1"),
		}},
		meta:  notice.NewMeta(notice.MetaMinistry, "보건복지부", notice.MetaAgency, "한국보건산업진흥원"),
		extra: "웨어러블 기기",
	}
	a := newAggregator(t, Options{}, Deps{Sources: []Source{src}, Scorer: newScorer(t)})

	b, _ := a.Collect(context.Background())

	require.Len(t, b.Items, 1)
	n := b.Items[0]
	assert.Equal(t, "보건복지부 > 한국보건산업진흥원", n.Institution)
	assert.Equal(t, 4, *n.Score)
}

func TestCollectIgnoresEnrichmentFailure(t *testing.T) {
	src := &enrichingSource{
		fakeSource: fakeSource{name: "iris", records: []notice.RawRecord{
			rec("IRIS", "title", "의료기기 공고", "link", "https://iris/1"),
		}},
		meta:  notice.NewMeta(notice.MetaMinistry, "보건복지부"),
		extra: "ignored",
		err:   errors.New("timeout"),
	}
	a := newAggregator(t, Options{}, Deps{Sources: []Source{src}, Scorer: newScorer(t)})

	b, _ := a.Collect(context.Background())

	require.Len(t, b.Items, 1)
	assert.Equal(t, 1, *b.Items[0].Score)
	_, ok := b.Items[0].Meta.Lookup(notice.MetaMinistry)
	assert.False(t, ok)
}

func TestCollectParallelKeepsSourceOrder(t *testing.T) {
	var sources []Source
	for _, name := range []string{"a", "b", "c", "d"} {
		sources = append(sources, &fakeSource{name: name, records: []notice.RawRecord{
			rec(name, "title", "same", "link", "https://same/1"),
		}})
	}
	a := newAggregator(t, Options{Concurrency: 4}, Deps{Sources: sources})

	b, reports := a.Collect(context.Background())

	require.Len(t, b.Items, 1)
	assert.Equal(t, "a", b.Items[0].Source)
	assert.Equal(t, "d", reports[3].Source)
}

func TestRunPersistsAndDelivers(t *testing.T) {
	src := &fakeSource{name: "s", records: []notice.RawRecord{rec("S", "title", "t", "link", "https://s/1")}}
	store := &memStore{}
	good := &fakeSink{name: "nats"}
	bad := &fakeSink{name: "neo4j", err: errors.New("unavailable")}
	recorder := newRecorder()
	a := newAggregator(t, Options{}, Deps{
		Sources: []Source{src},
		Store:   store,
		Sinks:   []Sink{bad, good},
		Metrics: recorder,
	})

	rep, err := a.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "run-1", rep.RunID)
	require.Len(t, store.saved, 1)
	assert.Equal(t, 1, store.saved[0].Count)
	require.Len(t, good.reports, 1)
	assert.Same(t, rep, good.reports[0])
	assert.Equal(t, []string{"neo4j"}, recorder.sinkErrs)
	assert.False(t, a.Busy())
}

func TestRunReturnsPersistError(t *testing.T) {
	src := &fakeSource{name: "s"}
	sink := &fakeSink{name: "nats"}
	a := newAggregator(t, Options{}, Deps{
		Sources: []Source{src},
		Store:   &memStore{err: errors.New("disk full")},
		Sinks:   []Sink{sink},
	})

	_, err := a.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, sink.reports)
	assert.False(t, a.Busy())
}

func TestRunGuardAllowsOneRunAtATime(t *testing.T) {
	block := make(chan struct{})
	src := &fakeSource{name: "slow", block: block}
	store := &memStore{}
	recorder := newRecorder()
	a := newAggregator(t, Options{}, Deps{Sources: []Source{src}, Store: store, Metrics: recorder})

	require.True(t, a.Start(context.Background()))
	assert.True(t, a.Busy())
	assert.False(t, a.Start(context.Background()))

	_, err := a.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(block)
	assert.Eventually(t, func() bool { return !a.Busy() }, 2*time.Second, 5*time.Millisecond)

	store.mu.Lock()
	assert.Len(t, store.saved, 1)
	store.mu.Unlock()
	recorder.mu.Lock()
	assert.Equal(t, 2, recorder.skipped)
	recorder.mu.Unlock()

	assert.True(t, a.Start(context.Background()))
	assert.Eventually(t, func() bool { return !a.Busy() }, 2*time.Second, 5*time.Millisecond)
}

func TestStartSurvivesCallerCancellation(t *testing.T) {
	block := make(chan struct{})
	store := &memStore{}
	a := newAggregator(t, Options{}, Deps{
		Sources: []Source{&fakeSource{name: "s", block: block, records: []notice.RawRecord{rec("S", "title", "t", "link", "https://s/1")}}},
		Store:   store,
	})
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, a.Start(ctx))
	cancel()
	close(block)

	assert.Eventually(t, func() bool { return !a.Busy() }, 2*time.Second, 5*time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Equal(t, 1, store.saved[0].Count)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{}, Deps{Sources: []Source{&fakeSource{name: "s"}}})
	assert.Error(t, err)

	_, err = New(Options{Feed: "events"}, Deps{})
	assert.Error(t, err)

	_, err = New(Options{Feed: "events"}, Deps{Sources: []Source{&resolvingSource{fakeSource{name: "kmdia"}}}})
	assert.ErrorContains(t, err, "requires a resolver")
}

func TestGuard(t *testing.T) {
	var g Guard
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
	g.Release()
	assert.True(t, g.TryAcquire())
}
