package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/engine/resolve"
	"github.com/noticewatch/noticewatch/pkg/repo"
)

type linkCall struct {
	rel   repo.Relation
	edges []repo.Edge
}

type fakeWriter struct {
	upserted []notice.Notice
	links    []linkCall
	err      error
}

func (w *fakeWriter) UpsertAll(_ context.Context, items []notice.Notice) error {
	if w.err != nil {
		return w.err
	}
	w.upserted = append(w.upserted, items...)
	return nil
}

func (w *fakeWriter) LinkAll(_ context.Context, rel repo.Relation, edges []repo.Edge) error {
	w.links = append(w.links, linkCall{rel, edges})
	return nil
}

func (w *fakeWriter) Count(context.Context) (int64, error) { return int64(len(w.upserted)), nil }

func report(items ...notice.Notice) *aggregate.Report {
	return &aggregate.Report{Feed: "notices", Bundle: notice.Bundle{Count: len(items), Items: items}}
}

func TestNoticeIDIsStable(t *testing.T) {
	a := notice.Notice{Title: " 공고 ", Date: "2025-03-10", Link: "https://x/1"}
	b := notice.Notice{Title: "공고", Date: "2025-03-10", Link: "https://x/1", Source: "KHIDI"}
	c := notice.Notice{Title: "공고", Date: "2025-03-11", Link: "https://x/1"}

	assert.Equal(t, NoticeID(a), NoticeID(b))
	assert.NotEqual(t, NoticeID(a), NoticeID(c))
}

func TestNoticeProps(t *testing.T) {
	s := 4
	n := notice.Notice{
		Source: "IRIS", Title: "t", Link: "https://x", Institution: "보건복지부",
		Score: &s, Reasons: []string{"r"},
		Meta: notice.NewMeta(resolve.MetaGoLinkType, "meta:원문링크"),
	}

	id, props := NoticeProps(n)

	assert.Equal(t, NoticeID(n), id)
	assert.Equal(t, int64(4), props["score"])
	assert.Equal(t, "meta:원문링크", props["link_type"])

	_, props = NoticeProps(notice.Notice{Title: "unscored"})
	assert.NotContains(t, props, "score")
}

func TestDeliverLinksInstitutionsAndSources(t *testing.T) {
	w := &fakeWriter{}
	items := []notice.Notice{
		{Source: "IRIS", Title: "a", Link: "https://x/a", Institution: "보건복지부"},
		{Source: "KHIDI", Title: "b", Link: "https://x/b", Institution: notice.OtherInstitution},
	}

	require.NoError(t, NewSink(w, nil).Deliver(context.Background(), report(items...)))

	assert.Len(t, w.upserted, 2)
	require.Len(t, w.links, 2)
	assert.Equal(t, "PUBLISHED_BY", w.links[0].rel.Type)
	assert.Equal(t, []repo.Edge{{From: NoticeID(items[0]), To: "보건복지부"}}, w.links[0].edges)
	assert.Equal(t, LabelSource, w.links[1].rel.TargetLabel)
	assert.Len(t, w.links[1].edges, 2)
}

func TestDeliverEmptyBundleIsNoop(t *testing.T) {
	w := &fakeWriter{err: errors.New("must not be called")}
	assert.NoError(t, NewSink(w, nil).Deliver(context.Background(), report()))
}

func TestDeliverWrapsErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("connection refused")}
	err := NewSink(w, nil).Deliver(context.Background(), report(notice.Notice{Title: "a", Link: "https://x"}))
	assert.ErrorContains(t, err, "graph notices: connection refused")
}
