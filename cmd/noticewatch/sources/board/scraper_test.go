package board

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/fn"
	"github.com/noticewatch/noticewatch/pkg/httpx"
)

const khidiPage = `<html><body><table><tbody>
<tr><td>3</td><td>공지</td><td class="ellipsis"><a href="/board/view?linkId=48810&amp;menuId=MENU01108">2025년 의료기기 R&amp;D 지원사업 공고</a></td><td>2025.03.10</td></tr>
<tr><td>2</td><td>공지</td><td class="ellipsis"><a href="javascript:void(0)">링크 없는 행</a></td><td>2025.03.09</td></tr>
<tr><td>1</td><td>공지</td><td class="ellipsis"><a href="/board/view?linkId=48810&amp;menuId=MENU01108">중복 행</a></td><td>2025.03.09</td></tr>
</tbody></table></body></html>`

func khidiAt(url string) Config {
	cfg := KHIDI()
	cfg.BaseURL = url
	return cfg
}

func newClient() *httpx.Client {
	return httpx.New(httpx.Options{Retry: fn.RetryOpts{MaxAttempts: 1}})
}

func TestKHIDIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "MENU01108", r.URL.Query().Get("menuId"))
		if r.URL.Query().Get("pageNum") != "1" {
			fmt.Fprint(w, `<table><tbody></tbody></table>`)
			return
		}
		fmt.Fprint(w, khidiPage)
	}))
	defer srv.Close()

	s, err := NewScraper(khidiAt(srv.URL), newClient(), nil)
	require.NoError(t, err)
	assert.Equal(t, "khidi", s.Name())

	recs, err := s.Fetch(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	n := normalize.Default().Normalize(recs[0])
	assert.Equal(t, "KHIDI", n.Source)
	assert.Equal(t, "2025년 의료기기 R&D 지원사업 공고", n.Title)
	assert.Equal(t, srv.URL+"/board/view?linkId=48810&menuId=MENU01108", n.Link)
	assert.Equal(t, "2025-03-10", n.Date)
	assert.Equal(t, "보건복지부 > 한국보건산업진흥원", n.Institution)
	assert.Equal(t, "2025-03-10", n.Meta.Get(notice.MetaPostedDate))
}

func TestFetchHonorsPageOverride(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, khidiPage)
	}))
	defer srv.Close()

	cfg := khidiAt(srv.URL)
	cfg.Pages = 1
	s, err := NewScraper(cfg, newClient(), nil)
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewScraperValidates(t *testing.T) {
	_, err := NewScraper(Config{Name: "x"}, newClient(), nil)
	assert.Error(t, err)
}
