package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/engine/store"
)

const titleWidth = 60

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderReport prints the per-source summary of a finished run.
func renderReport(w io.Writer, r *aggregate.Report) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%s run %s", r.Feed, r.RunID))
	t.AppendHeader(table.Row{"Source", "Fetched", "Kept", "Skipped", "Duration", "Error"})
	var fetched, kept, skipped int
	for _, s := range r.Sources {
		t.AppendRow(table.Row{s.Source, s.Fetched, s.Kept, s.Skipped, s.Duration.Round(time.Millisecond), s.Error})
		fetched += s.Fetched
		kept += s.Kept
		skipped += s.Skipped
	}
	t.AppendFooter(table.Row{"total", fetched, kept, skipped, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		fmt.Sprintf("%d published", r.Bundle.Count)})
	t.Render()
}

// renderBundle prints a persisted bundle, one row per notice.
func renderBundle(w io.Writer, b notice.Bundle, origin store.Origin) {
	t := newTable(w)
	threshold := "none"
	if b.Threshold != nil {
		threshold = strconv.Itoa(*b.Threshold)
	}
	t.SetTitle(fmt.Sprintf("%d notices, generated %s, threshold %s (%s)", b.Count, orDash(b.GeneratedAt), threshold, origin))
	t.AppendHeader(table.Row{"#", "Score", "Date", "Source", "Title", "Institution"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: titleWidth}})
	for i, n := range b.Items {
		t.AppendRow(table.Row{i + 1, scoreText(n.Score), orDash(n.Date), n.Source, n.Title, orDash(n.Institution)})
	}
	t.Render()
}

// renderSkips prints skip-log entries, oldest first.
func renderSkips(w io.Writer, entries []notice.SkipEntry) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Time", "Reason", "Title", "Detail URL", "Picked", "Note"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: titleWidth}})
	for _, e := range entries {
		t.AppendRow(table.Row{e.TS, e.Reason, e.Title, e.DetailURL, orDash(e.PickedLink), e.Note})
	}
	t.Render()
}

// writeJSON writes v as indented JSON without HTML escaping, the way bundle
// files are stored.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func scoreText(s *int) string {
	if s == nil {
		return "-"
	}
	return strconv.Itoa(*s)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
