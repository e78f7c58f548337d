// Command reportxlsx dumps stored reports into an Excel workbook, one row
// per report. Item columns are the union of every path seen across the
// exported reports. Rows that never reached the sink are highlighted.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"

	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/types"
)

const sheetName = "Reports"

func main() {
	dsn := flag.String("db", "file:tenken.db", "database DSN")
	out := flag.String("out", "reports.xlsx", "output workbook path")
	limit := flag.Int("limit", 200, "maximum reports to export, newest first")
	flag.Parse()

	db, err := sql.Open("sqlite", *dsn)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	st := store.NewSQLStore(db, nil)
	snaps, err := st.ListReports(context.Background(), *limit)
	if err != nil {
		log.Fatalf("listing reports: %v", err)
	}

	if err := export(snaps, *out); err != nil {
		log.Fatalf("exporting workbook: %v", err)
	}
	log.Printf("exported %d reports to %s", len(snaps), *out)
}

func export(snaps []types.ReportSnapshot, filename string) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	unmirroredStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("creating highlight style: %w", err)
	}

	itemKeys := collectItemKeys(snaps)
	headers := append([]string{"Timestamp", "Submitted By", "Mirrored"}, itemKeys...)
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for rowIdx, snap := range snaps {
		row := rowIdx + 2
		setCell(f, 1, row, snap.SubmittedAt.Format("2006-01-02 15:04:05"))
		setCell(f, 2, row, snap.SubmittedBy.Name)
		setCell(f, 3, row, snap.Mirrored)
		for colIdx, key := range itemKeys {
			if v, ok := lookupValue(snap.Values, key); ok {
				setCell(f, colIdx+4, row, v)
			}
		}
		if !snap.Mirrored {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(headers), row)
			f.SetCellStyle(sheetName, first, last, unmirroredStyle)
		}
	}

	for i := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, col, col, 18)
	}

	f.SetActiveSheet(index)
	if err := f.SaveAs(filename); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, col, row int, v any) {
	cell, _ := excelize.CoordinatesToCellName(col, row)
	f.SetCellValue(sheetName, cell, v)
}

// collectItemKeys returns every "place / category / item" path seen across
// the reports, sorted for stable columns.
func collectItemKeys(snaps []types.ReportSnapshot) []string {
	seen := make(map[string]struct{})
	for _, snap := range snaps {
		for place, cats := range snap.Values {
			for cat, items := range cats {
				for item := range items {
					seen[itemKey(place, cat, item)] = struct{}{}
				}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func itemKey(place, category, item string) string {
	return place + " / " + category + " / " + item
}

func lookupValue(values types.ReportValues, key string) (any, bool) {
	for place, cats := range values {
		for cat, items := range cats {
			for item, v := range items {
				if itemKey(place, cat, item) == key {
					return v, true
				}
			}
		}
	}
	return nil, false
}
