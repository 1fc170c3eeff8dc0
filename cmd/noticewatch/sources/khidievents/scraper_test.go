package khidievents

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noticewatch/noticewatch/engine/normalize"
	"github.com/noticewatch/noticewatch/pkg/fn"
	"github.com/noticewatch/noticewatch/pkg/httpx"
)

const boardHTML = `<table><tbody>
<tr><td>12</td><td>한국보건산업진흥원</td><td><a href="/board/view?linkId=901&amp;menuId=MENU01491">2025 디지털헬스 해외진출 설명회</a></td><td>2025.03.05</td></tr>
<tr><td>11</td><td>-</td><td><a href="/board/view?linkId=900&amp;menuId=MENU01491">의료기기 GMP 교육 안내</a></td><td>2025.03.01</td></tr>
<tr><td>10</td><td>공지</td><td><a href="/notice/1">게시판 밖 링크</a></td><td>2025.02.01</td></tr>
</tbody></table>`

func TestFetchListsRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, menuID, r.URL.Query().Get("menuId"))
		assert.Equal(t, "20", r.URL.Query().Get("rowCnt"))
		if r.URL.Query().Get("pageNum") == "1" {
			fmt.Fprint(w, boardHTML)
			return
		}
		fmt.Fprint(w, "<table><tbody></tbody></table>")
	}))
	defer srv.Close()

	s := NewScraper(Config{BaseURL: srv.URL}, httpx.New(httpx.Options{Retry: fn.RetryOpts{MaxAttempts: 1}}), nil)
	assert.True(t, s.RequiresResolution())

	recs, err := s.Fetch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	n := normalize.Default().Normalize(recs[0])
	assert.Equal(t, Tag, n.Source)
	assert.Equal(t, srv.URL+"/board/view?linkId=901&menuId=MENU01491", n.Link)
	assert.Equal(t, "2025-03-05", n.Date)
	assert.Equal(t, "한국보건산업진흥원", n.Institution)

	placeholder := normalize.Default().Normalize(recs[1])
	assert.Empty(t, placeholder.Institution)
}
