package iris

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/fn"
	"github.com/noticewatch/noticewatch/pkg/httpx"
)

const listPage1 = `<html><body><ul class="dbody">
<li>
  <strong class="title"><a href="javascript:void(0)" onclick="f_bsnsAncmView('014917', '2', 'ancmIng'); return false;">의료기기 실증 지원사업 공고</a></strong>
  <span class="inst_title">한국보건산업진흥원</span>
  <span class="ancmDe">공고일자 : 2025-03-10</span>
</li>
<li>
  <strong class="title"><a href="/contents/retrieveBsnsAncmView.do?ancmId=015000&amp;bsnsAncmSn=1">반도체 장비 개발</a></strong>
  <span class="inst_title">한국산업기술기획평가원</span>
  <span class="ancmDe">공고일자 : 2025-03-08</span>
</li>
<li><strong class="title"><a href="#">번호 없는 공고</a></strong></li>
</ul></body></html>`

const detailPage = `<html><body>
<div class="title_area"><ul class="list_dot">
  <li class="write"><strong>소관부처</strong><span>보건복지부</span></li>
  <li class="write"><strong>전문기관</strong><span>한국보건산업진흥원</span></li>
  <li class="write"><strong>공고번호</strong><span>보건복지부 공고 제2025-100호</span></li>
  <li class="write"><strong>접수기간</strong><span>2025-03-10 ~ 2025-04-10</span></li>
</ul></div>
<div class="tb_contents"><div class="se-contents">웨어러블 기기 임상 실증</div></div>
<ul class="add_file_list"><li class="add_file"><ul><li><a href="#"><span class="text">공고문.hwp</span></a></li></ul></li></ul>
</body></html>`

func newClient() *httpx.Client {
	return httpx.New(httpx.Options{Retry: fn.RetryOpts{MaxAttempts: 1}})
}

func TestFetchListsPrograms(t *testing.T) {
	var (
		mu           sync.Mutex
		seenPrograms []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, listPath, r.URL.Path)
		prg := r.URL.Query().Get("ancmPrg")
		page := r.URL.Query().Get("pageIndex")
		mu.Lock()
		seenPrograms = append(seenPrograms, prg+":"+page)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if prg == ProgramOpen && page == "1" {
			fmt.Fprint(w, listPage1)
			return
		}
		fmt.Fprint(w, `<ul class="dbody"></ul>`)
	}))
	defer srv.Close()

	s := NewScraper(Config{BaseURL: srv.URL}, newClient(), nil)
	recs, err := s.Fetch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	mu.Lock()
	assert.Equal(t, []string{"ancmIng:1", "ancmIng:2", "ancmExpct:1"}, seenPrograms)
	mu.Unlock()

	n := normalize.Default().Normalize(recs[0])
	assert.Equal(t, Tag, n.Source)
	assert.Equal(t, "의료기기 실증 지원사업 공고", n.Title)
	assert.Equal(t, "2025-03-10", n.Date)
	assert.Equal(t, srv.URL+viewPath+"?ancmId=014917&ancmPrg=ancmIng&bsnsAncmSn=2", n.Link)
	assert.Equal(t, "한국보건산업진흥원", n.Institution)

	second := normalize.Default().Normalize(recs[1])
	assert.Equal(t, srv.URL+viewPath+"?ancmId=015000&ancmPrg=ancmIng&bsnsAncmSn=1", second.Link)
}

func TestFetchFailsWhenNothingListed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewScraper(Config{BaseURL: srv.URL}, newClient(), nil).Fetch(context.Background(), 1)
	var se *httpx.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Status)
}

func TestEnrichReadsTitleArea(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Contains(t, r.Header.Get("Referer"), listPath)
		fmt.Fprint(w, detailPage)
	}))
	defer srv.Close()

	s := NewScraper(Config{BaseURL: srv.URL, IncludeExtra: true}, newClient(), nil)
	n := notice.Notice{Link: srv.URL + viewPath + "?ancmId=014917&ancmPrg=ancmIng&bsnsAncmSn=2"}
	meta, extra, err := s.Enrich(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, "보건복지부", meta.Get(notice.MetaMinistry))
	assert.Equal(t, "한국보건산업진흥원", meta.Get(notice.MetaAgency))
	assert.Equal(t, "보건복지부 공고 제2025-100호", meta.Get(notice.MetaAnnouncementID))
	assert.Equal(t, "2025-03-10 ~ 2025-04-10", meta.Get(notice.MetaApplyPeriod))
	assert.Equal(t, "웨어러블 기기 임상 실증\n공고문.hwp", extra)
}

func TestEnrichFallsBackToPost(t *testing.T) {
	var posted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "014917", r.PostForm.Get("ancmId"))
			assert.Equal(t, "2", r.PostForm.Get("bsnsAncmSn"))
			posted.Store(true)
			fmt.Fprint(w, detailPage)
			return
		}
		fmt.Fprint(w, `<html><body>loading</body></html>`)
	}))
	defer srv.Close()

	s := NewScraper(Config{BaseURL: srv.URL}, newClient(), nil)
	meta, extra, err := s.Enrich(context.Background(), notice.Notice{
		Link: srv.URL + viewPath + "?ancmId=014917&ancmPrg=ancmIng&bsnsAncmSn=2",
	})
	require.NoError(t, err)
	assert.True(t, posted.Load())
	assert.Equal(t, "보건복지부", meta.Get(notice.MetaMinistry))
	assert.Empty(t, extra)
}

func TestEnrichRejectsForeignLink(t *testing.T) {
	s := NewScraper(Config{}, newClient(), nil)
	_, _, err := s.Enrich(context.Background(), notice.Notice{Link: "https://example.com/x"})
	assert.ErrorIs(t, err, notice.ErrUnexpectedMarkup)
}

func TestParseRef(t *testing.T) {
	cases := []struct {
		onclick, href string
		want          ref
		ok            bool
	}{
		{`f_view('014917','2','ancmExpct')`, "", ref{"014917", "2", "ancmExpct"}, true},
		{`f_view(014917)`, "", ref{"014917", "1", ""}, true},
		{"", "/x?ancmId=9&ancmPrg=ancmIng", ref{"9", "1", "ancmIng"}, true},
		{"", "javascript:void(0)", ref{}, false},
	}
	for _, tc := range cases {
		got, ok := parseRef(tc.onclick, tc.href)
		assert.Equal(t, tc.ok, ok, tc.onclick+tc.href)
		assert.Equal(t, tc.want, got, tc.onclick+tc.href)
	}
}
