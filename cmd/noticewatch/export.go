package main

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/noticewatch/noticewatch/engine/notice"
)

var exportColumns = []string{"source", "title", "date", "institution", "score", "reasons", "link"}

// linkColumn is the 1-based column of the link in exportColumns.
const linkColumn = 7

// exportWorkbook writes b to path as a single sheet named after the feed.
// Meta keys become extra columns in first-seen order.
func exportWorkbook(b notice.Bundle, sheet, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	metaKeys := collectMetaKeys(b.Items)
	header := make([]any, 0, len(exportColumns)+len(metaKeys))
	for _, c := range exportColumns {
		header = append(header, c)
	}
	for _, k := range metaKeys {
		header = append(header, k)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("export header: %w", err)
	}

	for i, n := range b.Items {
		row := []any{n.Source, n.Title, n.Date, n.Institution, scoreCell(n.Score), strings.Join(n.Reasons, "; "), n.Link}
		for _, k := range metaKeys {
			row = append(row, n.Meta.Get(k))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("export row %d: %w", i+1, err)
		}
		if n.Link != "" {
			linkCell, _ := excelize.CoordinatesToCellName(linkColumn, i+2)
			if err := f.SetCellHyperLink(sheet, linkCell, n.Link, "External"); err != nil {
				return fmt.Errorf("export link %d: %w", i+1, err)
			}
		}
	}

	if err := decorate(f, sheet, len(header), len(b.Items)); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("export save %s: %w", path, err)
	}
	return nil
}

// decorate bolds and freezes the header row, adds a filter and widens the
// title column.
func decorate(f *excelize.File, sheet string, cols, rows int) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "B", 60); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, rows+1)
	if err != nil {
		return err
	}
	return f.AutoFilter(sheet, "A1:"+last, nil)
}

func collectMetaKeys(items []notice.Notice) []string {
	seen := map[string]bool{}
	var keys []string
	for _, n := range items {
		for _, k := range n.Meta.Keys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func scoreCell(s *int) any {
	if s == nil {
		return ""
	}
	return *s
}
