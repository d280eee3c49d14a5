// Package ingest reads candidate and history tables from csv, xlsx and json files.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/internal/scoring"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// ReadTable loads the candidate table at path, choosing the format by extension.
func ReadTable(path string) ([]types.Candidate, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		return DecodeJSON(f)
	}

	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	return ParseRows(rows)
}

// ReadHistory loads training rows: the candidate columns plus round and next_points.
func ReadHistory(path string) ([]scoring.HistoryRow, error) {
	rows, err := readRows(path)
	if err != nil {
		return nil, err
	}
	return ParseHistoryRows(rows)
}

// DecodeJSON reads a JSON array of candidates.
func DecodeJSON(r io.Reader) ([]types.Candidate, error) {
	var out []types.Candidate
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, apperrors.NewInputValidation("table", "invalid JSON: %v", err)
	}
	if len(out) == 0 {
		return nil, apperrors.NewInputValidation("table", "no candidate rows")
	}
	return out, nil
}

// ReadCSV reads every record of a CSV stream.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, apperrors.NewInputValidation("table", "invalid CSV: %v", err)
	}
	return rows, nil
}

func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		return ReadCSV(f)
	case ".xlsx":
		return readWorkbook(path)
	}
	return nil, apperrors.NewInputValidation("table", "unsupported file type %q", filepath.Ext(path))
}

// readWorkbook returns the rows of the first sheet.
func readWorkbook(path string) ([][]string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.NewInputValidation("table", "workbook has no sheets")
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// ParseRows converts a header row plus data rows into candidates. Blank lines are skipped
// and optional statistics default to zero.
func ParseRows(rows [][]string) ([]types.Candidate, error) {
	h, body, err := splitHeader(rows, RequiredColumns)
	if err != nil {
		return nil, err
	}

	out := make([]types.Candidate, 0, len(body))
	for i, row := range body {
		if blank(row) {
			continue
		}
		c, err := parseCandidate(h, row, i+2)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, apperrors.NewInputValidation("table", "no candidate rows")
	}
	return out, nil
}

// ParseHistoryRows converts history rows ordered however the file stores them.
func ParseHistoryRows(rows [][]string) ([]scoring.HistoryRow, error) {
	required := append(append([]string(nil), RequiredColumns...), ColRound, ColNextPoints)
	h, body, err := splitHeader(rows, required)
	if err != nil {
		return nil, err
	}

	out := make([]scoring.HistoryRow, 0, len(body))
	for i, row := range body {
		if blank(row) {
			continue
		}
		line := i + 2
		c, err := parseCandidate(h, row, line)
		if err != nil {
			return nil, err
		}
		round, err := h.float(row, ColRound, line)
		if err != nil {
			return nil, err
		}
		next, err := h.float(row, ColNextPoints, line)
		if err != nil {
			return nil, err
		}
		out = append(out, scoring.HistoryRow{Candidate: c, Round: int(round), NextPoints: next})
	}
	if len(out) == 0 {
		return nil, apperrors.NewInputValidation("history", "no history rows")
	}
	return out, nil
}

func splitHeader(rows [][]string, required []string) (header, [][]string, error) {
	if len(rows) == 0 {
		return header{}, nil, apperrors.NewInputValidation("table", "file is empty")
	}
	h, err := parseHeader(rows[0])
	if err != nil {
		return header{}, nil, err
	}
	if missing := h.missing(required); len(missing) > 0 {
		return header{}, nil, apperrors.NewInputValidation("columns", "missing required column(s): %s", strings.Join(missing, ", "))
	}
	return h, rows[1:], nil
}

func parseCandidate(h header, row []string, line int) (types.Candidate, error) {
	var c types.Candidate

	id, err := strconv.Atoi(h.cell(row, ColID))
	if err != nil {
		return c, rowError(line, ColID, "not an integer: %q", h.cell(row, ColID))
	}
	c.ID = id

	c.Name = h.cell(row, ColName)
	if c.Name == "" {
		return c, rowError(line, ColName, "is empty")
	}
	c.Group = h.cell(row, ColGroup)
	if c.Group == "" {
		return c, rowError(line, ColGroup, "is empty")
	}
	if c.Category, err = types.ParseCategory(h.cell(row, ColCategory)); err != nil {
		return c, rowError(line, ColCategory, "%v", err)
	}
	if c.Cost, err = decimal.NewFromString(h.cell(row, ColCost)); err != nil {
		return c, rowError(line, ColCost, "not a number: %q", h.cell(row, ColCost))
	}

	stats := []struct {
		col  string
		dest *float64
	}{
		{ColSeasonPoints, &c.SeasonPoints},
		{ColPointsPerGame, &c.PointsPerGame},
		{ColForm, &c.Form},
		{ColFormExtended, &c.FormExtended},
		{ColMinutes, &c.Minutes},
		{ColAppearances, &c.Appearances},
		{ColOwnership, &c.Ownership},
		{ColAge, &c.Age},
	}
	for _, s := range stats {
		if *s.dest, err = h.float(row, s.col, line); err != nil {
			return c, err
		}
	}

	if c.Fixtures, err = h.parseFixtures(row, line); err != nil {
		return c, err
	}
	return c, nil
}

// parseFixtures keeps the leading run of fixtures with at least one difficulty present.
func (h header) parseFixtures(row []string, line int) ([]types.FixtureDifficulty, error) {
	if h.count == 0 {
		return nil, nil
	}
	fixtures := make([]types.FixtureDifficulty, h.count)
	seen := make([]bool, h.count)

	cols := make([]int, 0, len(h.fixtures))
	for col := range h.fixtures {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	for _, col := range cols {
		ref := h.fixtures[col]
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		v, err := parseFloat(row[col])
		if err != nil || v < 0 {
			return nil, rowError(line, fmt.Sprintf("fdr_%d", ref.index), "invalid difficulty %q", row[col])
		}
		if ref.attack {
			fixtures[ref.index-1].Attack = v
		} else {
			fixtures[ref.index-1].Defence = v
		}
		seen[ref.index-1] = true
	}

	n := 0
	for n < len(seen) && seen[n] {
		n++
	}
	if n == 0 {
		return nil, nil
	}
	return fixtures[:n], nil
}

func (h header) cell(row []string, name string) string {
	i, ok := h.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (h header) float(row []string, name string, line int) (float64, error) {
	raw := h.cell(row, name)
	if raw == "" {
		return 0, nil
	}
	v, err := parseFloat(raw)
	if err != nil {
		return 0, rowError(line, name, "not a number: %q", raw)
	}
	return v, nil
}

func parseFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(raw), "%"), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite")
	}
	return v, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func rowError(line int, column, format string, args ...interface{}) error {
	return apperrors.NewInputValidation(fmt.Sprintf("row %d %s", line, column), format, args...)
}
