package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/engine"
	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/internal/export"
	"github.com/stitts-dev/squad-optimizer/internal/ingest"
	"github.com/stitts-dev/squad-optimizer/pkg/config"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		input      = flag.String("input", "", "candidate table (.csv, .xlsx or .json)")
		budget     = flag.String("budget", "", "budget, e.g. 100.0 (defaults to budget.default)")
		mode       = flag.String("mode", "", "scoring mode: deterministic or ensemble")
		include    = flag.String("include", "", "comma-separated candidate IDs to force in")
		exclude    = flag.String("exclude", "", "comma-separated candidate IDs to force out")
		xlsxOut    = flag.String("xlsx", "", "write the result workbook to this path")
		asJSON     = flag.Bool("json", false, "print the result as JSON")
	)
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: optimize -input players.csv [-budget 100.0] [-xlsx out.xlsx]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment()).SetOutput(os.Stderr)
	log := logger.WithService("optimize")

	opts, err := engine.OptionsFromConfig(cfg, log)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	eng, err := engine.New(opts, log)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	req, err := buildRequest(*input, *budget, *mode, *include, *exclude)
	if err != nil {
		fail(err)
	}

	result, err := eng.Run(context.Background(), req)
	if err != nil {
		fail(err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
	} else {
		printSummary(os.Stdout, result)
	}

	if *xlsxOut != "" {
		f, err := os.Create(*xlsxOut)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *xlsxOut, err)
		}
		if err := export.WriteWorkbook(f, result); err != nil {
			f.Close()
			log.Fatalf("Failed to write workbook: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Failed to write workbook: %v", err)
		}
		log.WithField("path", *xlsxOut).Info("Wrote result workbook")
	}
}

func buildRequest(input, budget, mode, include, exclude string) (engine.Request, error) {
	var req engine.Request

	candidates, err := ingest.ReadTable(input)
	if err != nil {
		return req, err
	}
	req.Candidates = candidates
	req.Mode = types.ScoringMode(mode)

	if budget != "" {
		b, err := decimal.NewFromString(budget)
		if err != nil {
			return req, apperrors.NewInputValidation("budget", "not a number: %q", budget)
		}
		req.Constraints.Budget = b
	}
	if req.Constraints.ForcedInclude, err = parseIDs("include", include); err != nil {
		return req, err
	}
	if req.Constraints.ForcedExclude, err = parseIDs("exclude", exclude); err != nil {
		return req, err
	}
	return req, nil
}

func parseIDs(field, raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, apperrors.NewInputValidation(field, "bad candidate ID %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printSummary(w io.Writer, r *types.OptimizationResult) {
	fmt.Fprintf(w, "Run %s  formation %s\n", r.RunID, r.Lineup.Formation())
	fmt.Fprintf(w, "Cost %s  remaining %s  expected value %.2f  starting %.2f\n\n",
		r.TotalCost.StringFixed(1), r.RemainingBudget.StringFixed(1), r.TotalEV, r.Lineup.StartingEV)

	fmt.Fprintln(w, "Starters")
	for _, m := range r.Lineup.Starters {
		role := ""
		switch m.ID {
		case r.Lineup.CaptainID:
			role = " (C)"
		case r.Lineup.ViceCaptainID:
			role = " (VC)"
		}
		fmt.Fprintf(w, "  %-3s %-24s %-6s %5s %7.2f%s\n", m.Category, m.Name, m.Group, m.Cost.StringFixed(1), m.ExpectedValue, role)
	}
	fmt.Fprintln(w, "Reserves")
	for i, m := range r.Lineup.Reserves {
		fmt.Fprintf(w, "  %d.  %-3s %-24s %-6s %5s %7.2f\n", i+1, m.Category, m.Name, m.Group, m.Cost.StringFixed(1), m.ExpectedValue)
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(w, "\n%d scoring warning(s); affected candidates used the deterministic score\n", len(r.Warnings))
	}
	fmt.Fprintf(w, "\nSearch: %d nodes, %s relaxation, %s\n", r.Stats.Nodes, r.Stats.Relaxation, r.Stats.Duration)
}

func fail(err error) {
	code := apperrors.GetCode(err)
	fmt.Fprintf(os.Stderr, "error [%s]: %v\n", code, err)
	switch code {
	case apperrors.CodeInputValidation:
		os.Exit(2)
	case apperrors.CodeConstraintConflict, apperrors.CodeInfeasible:
		os.Exit(3)
	}
	os.Exit(1)
}
