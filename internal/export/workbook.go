// Package export renders optimization results as xlsx workbooks.
package export

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

const (
	SheetSquad   = "Squad"
	SheetLineup  = "Lineup"
	SheetSummary = "Summary"
)

var memberHeader = []interface{}{"ID", "Name", "Category", "Group", "Cost", "Expected Value", "Scoring Mode"}

// WriteWorkbook writes the squad, lineup and summary sheets of result to w.
func WriteWorkbook(w io.Writer, result *types.OptimizationResult) error {
	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetSheetName(wb.GetSheetName(0), SheetSquad); err != nil {
		return err
	}
	for _, name := range []string{SheetLineup, SheetSummary} {
		if _, err := wb.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", name, err)
		}
	}

	bold, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := writeSquad(wb, result, bold); err != nil {
		return err
	}
	if err := writeLineup(wb, result, bold); err != nil {
		return err
	}
	if err := writeSummary(wb, result, bold); err != nil {
		return err
	}

	_, err = wb.WriteTo(w)
	return err
}

func writeSquad(wb *excelize.File, result *types.OptimizationResult, bold int) error {
	rows := [][]interface{}{memberHeader}
	for _, m := range result.Squad.Members {
		rows = append(rows, memberRow(m))
	}
	if err := writeRows(wb, SheetSquad, rows); err != nil {
		return err
	}
	return wb.SetRowStyle(SheetSquad, 1, 1, bold)
}

func writeLineup(wb *excelize.File, result *types.OptimizationResult, bold int) error {
	header := append([]interface{}{"Slot", "Role"}, memberHeader...)
	rows := [][]interface{}{header}
	for i, m := range result.Lineup.Starters {
		role := ""
		switch m.ID {
		case result.Lineup.CaptainID:
			role = "C"
		case result.Lineup.ViceCaptainID:
			role = "VC"
		}
		rows = append(rows, append([]interface{}{i + 1, role}, memberRow(m)...))
	}
	for i, m := range result.Lineup.Reserves {
		rows = append(rows, append([]interface{}{fmt.Sprintf("R%d", i+1), ""}, memberRow(m)...))
	}
	if err := writeRows(wb, SheetLineup, rows); err != nil {
		return err
	}
	return wb.SetRowStyle(SheetLineup, 1, 1, bold)
}

func writeSummary(wb *excelize.File, result *types.OptimizationResult, bold int) error {
	rows := [][]interface{}{
		{"Run ID", result.RunID},
		{"Formation", result.Lineup.Formation()},
		{"Total Cost", result.TotalCost.InexactFloat64()},
		{"Remaining Budget", result.RemainingBudget.InexactFloat64()},
		{"Total Expected Value", round2(result.TotalEV)},
		{"Starting Expected Value", round2(result.Lineup.StartingEV)},
		{"Nodes", result.Stats.Nodes},
		{"Relaxation", result.Stats.Relaxation},
		{"Solve Time (ms)", result.Stats.Duration.Milliseconds()},
		{"Scoring Warnings", len(result.Warnings)},
	}
	if err := writeRows(wb, SheetSummary, rows); err != nil {
		return err
	}
	return wb.SetColStyle(SheetSummary, "A", bold)
}

func memberRow(m types.Candidate) []interface{} {
	return []interface{}{
		m.ID,
		m.Name,
		string(m.Category),
		m.Group,
		m.Cost.InexactFloat64(),
		round2(m.ExpectedValue),
		string(m.ScoringMode),
	}
}

func writeRows(wb *excelize.File, sheet string, rows [][]interface{}) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := wb.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
