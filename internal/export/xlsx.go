// Package export writes dashboard snapshots as xlsx workbooks.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/mtlprog/dcastat/internal/domain"
)

// Sheet names of the workbook, in order.
const (
	SheetSummary   = "SUMMARY"
	SheetPositions = "POSITIONS"
	SheetChart     = "CHART"
)

// WriteXLSX writes snap as a workbook with summary, positions and chart sheets.
func WriteXLSX(w io.Writer, snap domain.Snapshot) error {
	f, err := Workbook(snap)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// Workbook builds the workbook for snap. The caller closes it.
func Workbook(snap domain.Snapshot) (*excelize.File, error) {
	f := excelize.NewFile()

	symbols := make(map[domain.TokenID]string, len(snap.Summary))
	for mint, s := range snap.Summary {
		symbols[mint] = s.Token
	}
	for _, p := range snap.Positions {
		symbols[p.Mint] = p.Token
	}

	sheets := []struct {
		name  string
		rows  [][]any
		width float64
	}{
		{SheetSummary, buildSummary(snap.Summary), 16},
		{SheetPositions, buildPositions(snap.Positions), 18},
		{SheetChart, buildChart(snap.ChartData, symbols), 16},
	}

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"D9EAD3"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				f.Close()
				return nil, fmt.Errorf("renaming sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet %s: %w", sh.name, err)
		}

		if err := writeSheet(f, sh.name, sh.rows, sh.width, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing %s: %w", sh.name, err)
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeSheet(f *excelize.File, name string, rows [][]any, width float64, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return err
		}
	}
	if len(rows) == 0 {
		return nil
	}

	last, err := excelize.ColumnNumberToName(len(rows[0]))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(name, "A1", last+"1", headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(name, "A", last, width); err != nil {
		return err
	}
	return f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
