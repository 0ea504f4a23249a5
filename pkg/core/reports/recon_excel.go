// Package reports renders the engine's outputs for humans: the
// reconciliation workbook, the capital-gains CSV and the batch summary.
package reports

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"arthakosh/pkg/core/golden"
	"arthakosh/pkg/models"
)

const (
	sheetSummary  = "Summary"
	sheetDetails  = "Details"
	sheetSuspense = "Suspense"
)

// resultFills maps a match result to a cell fill color.
var resultFills = map[models.MatchResult]string{
	models.MatchExact:           "C6EFCE", // green
	models.MatchWithinTolerance: "FFEB9C", // amber
	models.MatchMismatch:        "FFC7CE", // red
	models.MatchMissingGolden:   "D9E1F2", // blue
	models.MatchMissingSystem:   "FFC7CE",
}

var severityFills = map[models.Severity]string{
	models.SeverityInfo:     "C6EFCE",
	models.SeverityWarning:  "FFEB9C",
	models.SeverityError:    "FFC7CE",
	models.SeverityCritical: "FF5B5B",
}

// WriteReconciliationWorkbook renders one reconciliation run plus the open
// suspense queue into an xlsx file.
func WriteReconciliationWorkbook(path string, report *golden.ReconcileReport, suspense []golden.SuspenseItem) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeSummarySheet(f, report); err != nil {
		return err
	}
	if err := writeDetailsSheet(f, report); err != nil {
		return err
	}
	if err := writeSuspenseSheet(f, suspense); err != nil {
		return err
	}

	// The default sheet excelize creates is replaced by Summary.
	f.DeleteSheet("Sheet1")
	if idx, err := f.GetSheetIndex(sheetSummary); err == nil {
		f.SetActiveSheet(idx)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	logrus.WithFields(logrus.Fields{"path": path, "comparisons": len(report.Comparisons)}).
		Info("reconciliation workbook written")
	return nil
}

func writeSummarySheet(f *excelize.File, report *golden.ReconcileReport) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return err
	}

	counts := map[models.MatchResult]int{}
	for _, c := range report.Comparisons {
		counts[c.Result]++
	}

	rows := [][]interface{}{
		{"Golden reference", report.GoldenRefID},
		{"Comparisons", len(report.Comparisons)},
		{"Exact", counts[models.MatchExact]},
		{"Within tolerance", counts[models.MatchWithinTolerance]},
		{"Mismatch", counts[models.MatchMismatch]},
		{"Missing in system", counts[models.MatchMissingSystem]},
		{"Missing in golden", counts[models.MatchMissingGolden]},
		{"Suspense opened", report.SuspenseOpened},
		{"Suspense closed", report.SuspenseClosed},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetSummary, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeDetailsSheet(f *excelize.File, report *golden.ReconcileReport) error {
	if _, err := f.NewSheet(sheetDetails); err != nil {
		return err
	}

	header := []interface{}{"Match Key", "Asset Type", "Golden Units", "System Units", "Difference", "Result", "Severity"}
	if err := f.SetSheetRow(sheetDetails, "A1", &header); err != nil {
		return err
	}

	for i, c := range report.Comparisons {
		row := []interface{}{
			c.MatchKey, string(c.AssetType),
			c.GoldenUnits.String(), c.SystemUnits.String(), c.Difference.String(),
			string(c.Result), string(c.Severity),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetDetails, cell, &row); err != nil {
			return err
		}
		if err := fillCell(f, sheetDetails, 6, i+2, resultFills[c.Result]); err != nil {
			return err
		}
		if err := fillCell(f, sheetDetails, 7, i+2, severityFills[c.Severity]); err != nil {
			return err
		}
	}
	return nil
}

func writeSuspenseSheet(f *excelize.File, items []golden.SuspenseItem) error {
	if _, err := f.NewSheet(sheetSuspense); err != nil {
		return err
	}

	header := []interface{}{"ID", "Match Key", "Asset Type", "Amount", "Status", "Opened", "Notes"}
	if err := f.SetSheetRow(sheetSuspense, "A1", &header); err != nil {
		return err
	}
	for i, item := range items {
		row := []interface{}{
			item.ID, item.MatchKey, string(item.AssetType), item.Amount.String(),
			string(item.Status), item.OpenedAt.Format("2006-01-02"), item.Notes,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetSuspense, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func fillCell(f *excelize.File, sheet string, col, row int, color string) error {
	if color == "" {
		return nil
	}
	styleID, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
	})
	if err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, cell, cell, styleID)
}
