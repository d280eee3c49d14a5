// Package mcptools exposes the optimizer as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/engine"
	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/internal/ingest"
	"github.com/stitts-dev/squad-optimizer/internal/optimizer"
	"github.com/stitts-dev/squad-optimizer/internal/scoring"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

type OptimizeArgs struct {
	TablePath string             `json:"table_path,omitempty" jsonschema:"Candidate table file (.csv, .xlsx or .json)"`
	Snapshot  string             `json:"snapshot,omitempty" jsonschema:"Stored snapshot name, used when table_path is empty"`
	Budget    float64            `json:"budget,omitempty" jsonschema:"Budget ceiling (default from config)"`
	Include   []int              `json:"include,omitempty" jsonschema:"Candidate IDs that must be selected"`
	Exclude   []int              `json:"exclude,omitempty" jsonschema:"Candidate IDs that must not be selected"`
	Mode      string             `json:"mode,omitempty" jsonschema:"Scoring mode: deterministic|ensemble"`
	Weights   map[string]float64 `json:"weights,omitempty" jsonschema:"Factor weight overrides"`
}

type ScoreArgs struct {
	TablePath string `json:"table_path,omitempty" jsonschema:"Candidate table file (.csv, .xlsx or .json)"`
	Snapshot  string `json:"snapshot,omitempty" jsonschema:"Stored snapshot name, used when table_path is empty"`
	Mode      string `json:"mode,omitempty" jsonschema:"Scoring mode: deterministic|ensemble"`
	Category  string `json:"category,omitempty" jsonschema:"Only return this category (GKP|DEF|MID|FWD)"`
	Top       int    `json:"top,omitempty" jsonschema:"How many candidates to return (default 20)"`
}

// ToolInfo describes a registered tool for the /tools listing.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Tools struct {
	engine   *engine.Engine
	logger   *logrus.Entry
	registry []ToolInfo
}

func New(e *engine.Engine, logger *logrus.Entry) *Tools {
	return &Tools{engine: e, logger: logger}
}

// Register adds every tool to server.
func (t *Tools) Register(server *mcp.Server) {
	addTool(t, server, &mcp.Tool{
		Name:        "optimize_squad",
		Description: "Select the expected-value maximizing 15-player squad and its starting eleven",
	}, t.OptimizeSquad)
	addTool(t, server, &mcp.Tool{
		Name:        "score_candidates",
		Description: "Score a candidate pool and list the highest expected values",
	}, t.ScoreCandidates)
}

// Registry lists the registered tools.
func (t *Tools) Registry() []ToolInfo {
	return t.registry
}

func addTool[T any](t *Tools, server *mcp.Server, tool *mcp.Tool, handler func(context.Context, *mcp.CallToolRequest, T) (*mcp.CallToolResult, any, error)) {
	t.registry = append(t.registry, ToolInfo{Name: tool.Name, Description: tool.Description})
	mcp.AddTool(server, tool, handler)
}

func (t *Tools) OptimizeSquad(ctx context.Context, _ *mcp.CallToolRequest, args OptimizeArgs) (*mcp.CallToolResult, any, error) {
	candidates, err := readTable(args.TablePath)
	if err != nil {
		return toolError(err), nil, nil
	}

	req := engine.Request{
		Candidates: candidates,
		Snapshot:   args.Snapshot,
		Mode:       types.ScoringMode(args.Mode),
		Weights:    scoring.Weights(args.Weights),
		Constraints: optimizer.ConstraintSet{
			ForcedInclude: args.Include,
			ForcedExclude: args.Exclude,
		},
	}
	if args.Budget > 0 {
		req.Constraints.Budget = decimal.NewFromFloat(args.Budget).Round(1)
	}
	if len(candidates) > 0 {
		req.Snapshot = ""
	}

	result, err := t.engine.Run(ctx, req)
	if err != nil {
		t.logger.WithError(err).WithField("tool", "optimize_squad").Warn("Tool call failed")
		return toolError(err), nil, nil
	}
	return toolJSON(json.MarshalIndent(result, "", "  "))
}

func (t *Tools) ScoreCandidates(ctx context.Context, _ *mcp.CallToolRequest, args ScoreArgs) (*mcp.CallToolResult, any, error) {
	candidates, err := readTable(args.TablePath)
	if err != nil {
		return toolError(err), nil, nil
	}
	req := engine.ScoreRequest{Candidates: candidates, Mode: types.ScoringMode(args.Mode)}
	if len(candidates) == 0 {
		req.Snapshot = args.Snapshot
	}

	var only types.Category
	if args.Category != "" {
		if only, err = types.ParseCategory(args.Category); err != nil {
			return toolError(apperrors.NewInputValidation("category", "%v", err)), nil, nil
		}
	}

	res, err := t.engine.Score(ctx, req)
	if err != nil {
		t.logger.WithError(err).WithField("tool", "score_candidates").Warn("Tool call failed")
		return toolError(err), nil, nil
	}

	ranked := make([]types.Candidate, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		if only == "" || c.Category == only {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ExpectedValue != ranked[j].ExpectedValue {
			return ranked[i].ExpectedValue > ranked[j].ExpectedValue
		}
		return ranked[i].ID < ranked[j].ID
	})
	top := args.Top
	if top <= 0 {
		top = 20
	}
	if top < len(ranked) {
		ranked = ranked[:top]
	}

	return toolJSON(json.MarshalIndent(map[string]any{
		"candidates": ranked,
		"fallbacks":  res.Fallbacks,
		"warnings":   res.Warnings,
	}, "", "  "))
}

func readTable(path string) ([]types.Candidate, error) {
	if path == "" {
		return nil, nil
	}
	return ingest.ReadTable(path)
}

func toolJSON(res []byte, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		return toolError(err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(res)},
		},
	}, nil, nil
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("error [%s]: %v", apperrors.GetCode(err), err)},
		},
	}
}
