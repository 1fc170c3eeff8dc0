package g2b

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/noticewatch/noticewatch/engine/notice"
)

const apiTimeLayout = "200601021504"

// item is one API row with its fields in document order.
type item struct {
	Fields []field `xml:",any"`
}

type field struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (it item) get(name string) string {
	for _, f := range it.Fields {
		if f.XMLName.Local == name {
			return strings.TrimSpace(f.Value)
		}
	}
	return ""
}

func (it item) meta() notice.Meta {
	var m notice.Meta
	for _, f := range it.Fields {
		m.Set(f.XMLName.Local, strings.TrimSpace(f.Value))
	}
	return m
}

type apiResponse struct {
	Header struct {
		ResultCode string `xml:"resultCode"`
		ResultMsg  string `xml:"resultMsg"`
	} `xml:"header"`
	Body struct {
		Items      []item `xml:"items>item"`
		TotalCount int    `xml:"totalCount"`
	} `xml:"body"`
}

// APIError is a non-success result code in an API answer.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("g2b api: result %s: %s", e.Code, e.Message)
}

func parseResponse(body []byte) ([]item, int, error) {
	var r apiResponse
	if err := xml.Unmarshal(body, &r); err != nil {
		return nil, 0, fmt.Errorf("g2b api: decode: %w", err)
	}
	if code := strings.TrimSpace(r.Header.ResultCode); code != "" && code != "00" {
		return nil, 0, &APIError{Code: code, Message: strings.TrimSpace(r.Header.ResultMsg)}
	}
	return r.Body.Items, r.Body.TotalCount, nil
}

// query builds the list request for mode over [start, end].
func (s *Scraper) query(mode Mode, start, end time.Time, page int) string {
	q := url.Values{
		"numOfRows":  {strconv.Itoa(s.cfg.Rows)},
		"pageNo":     {strconv.Itoa(page)},
		"ServiceKey": {s.cfg.APIKey},
	}
	switch mode {
	case ModeDeadline:
		q.Set("bidBeginDate", start.Format(apiTimeLayout))
		q.Set("bidClseDate", end.Format(apiTimeLayout))
	default:
		if end.Sub(start) > maxPostedWindow {
			start = end.Add(-maxPostedWindow)
		}
		q.Set("bidNtceBgnDt", start.Format(apiTimeLayout))
		q.Set("bidNtceEndDt", end.Format(apiTimeLayout))
		q.Set("bsnsDivCd", "5")
	}
	return s.cfg.BaseURL + "/" + noticeEndpoint + "?" + q.Encode()
}

func (s *Scraper) listPage(ctx context.Context, mode Mode, start, end time.Time, page int) ([]item, int, error) {
	resp, err := s.client.Get(ctx, s.query(mode, start, end, page))
	if err != nil {
		return nil, 0, fmt.Errorf("g2b %s page %d: %w", mode, page, s.redact(err))
	}
	if !resp.OK() {
		return nil, 0, fmt.Errorf("g2b %s page %d: status %d", mode, page, resp.Status)
	}
	return parseResponse(resp.Body)
}

// redacted hides the service key in transport errors, which quote the
// request URL.
type redacted struct {
	msg string
	err error
}

func (e *redacted) Error() string { return e.msg }
func (e *redacted) Unwrap() error { return e.err }

func (s *Scraper) redact(err error) error {
	if s.cfg.APIKey == "" {
		return err
	}
	msg := err.Error()
	for _, k := range []string{url.QueryEscape(s.cfg.APIKey), s.cfg.APIKey} {
		msg = strings.ReplaceAll(msg, k, "REDACTED")
	}
	return &redacted{msg: msg, err: err}
}
