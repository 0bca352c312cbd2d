// Package report renders daily attendance snapshots as spreadsheets.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"rfidattend/internal/attendance"
)

const sheetName = "Attendance"

var columns = []struct {
	title string
	width float64
}{
	{"Date", 12},
	{"Time", 10},
	{"Role", 9},
	{"ID", 14},
	{"Name", 24},
	{"Card", 14},
	{"Cohort", 12},
	{"Subject", 18},
	{"Kind", 11},
	{"Reader", 12},
}

// FileName is the snapshot name for a civil date (YYYY-MM-DD).
func FileName(date string) string {
	return fmt.Sprintf("attendance-%s.xlsx", date)
}

// WriteDaily writes recs (one day's records) to dir and returns the file path.
// The file is written to a temp name and renamed so readers never see a
// partial snapshot.
func WriteDaily(dir, date string, recs []attendance.Record) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	sorted := make([]attendance.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScannedAt.Before(sorted[j].ScannedAt)
	})

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return "", err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	for i, c := range columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheetName, col, col, c.width)
		_ = f.SetCellValue(sheetName, cell(col, 1), c.title)
	}
	last, _ := excelize.ColumnNumberToName(len(columns))
	_ = f.SetCellStyle(sheetName, "A1", cell(last, 1), headerStyle)

	for i, r := range sorted {
		row := i + 2
		values := []any{r.Date, r.Time, string(r.Role), r.PersonID, r.Name, r.CardID, r.Cohort(), r.Subject, r.Kind, r.ReaderID}
		if err := f.SetSheetRow(sheetName, cell("A", row), &values); err != nil {
			return "", fmt.Errorf("write row %d: %w", row, err)
		}
	}

	path := filepath.Join(dir, FileName(date))
	tmp := filepath.Join(dir, ".partial-"+FileName(date))
	if err := f.SaveAs(tmp); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish snapshot: %w", err)
	}
	return path, nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
