package report

import (
	"io"

	"github.com/xuri/excelize/v2"

	"ratesim/internal/model"
)

const (
	sheetClients    = "Clients"
	sheetViolations = "Violations"
)

var (
	clientHeader    = []any{"Client", "Total", "Allowed", "Blocked", "Success %", "First Request", "Latest Request", "Last Activity"}
	violationHeader = []any{"Report ID", "Client", "Analyzed At", "Level", "#", "Violation"}
)

// WriteXLSX writes a workbook with one row per client and one row per
// violation of the given analysis results.
func WriteXLSX(w io.Writer, all []model.ClientStats, records []model.ReportRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetClients); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetViolations); err != nil {
		return err
	}

	if err := f.SetSheetRow(sheetClients, "A1", &clientHeader); err != nil {
		return err
	}
	for i, s := range all {
		row := []any{
			s.ClientID,
			s.Total,
			s.Admitted,
			s.Rejected,
			roundTenth(s.SuccessRate),
			formatTime(s.First, dateTimeLayout),
			formatTime(s.Last, dateTimeLayout),
			formatTime(s.LastActivity, dateTimeLayout),
		}
		if err := f.SetSheetRow(sheetClients, cell(i+2), &row); err != nil {
			return err
		}
	}

	if err := f.SetSheetRow(sheetViolations, "A1", &violationHeader); err != nil {
		return err
	}
	next := 2
	for _, rec := range records {
		for i, v := range rec.Violations {
			row := []any{rec.ID, rec.ClientID, rec.AnalyzedAt.Local().Format(dateTimeLayout), rec.Level.String(), i + 1, v}
			if err := f.SetSheetRow(sheetViolations, cell(next), &row); err != nil {
				return err
			}
			next++
		}
	}

	if err := f.SetPanes(sheetClients, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}

func cell(row int) string {
	name, _ := excelize.CoordinatesToCellName(1, row)
	return name
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
