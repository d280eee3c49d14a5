package ingest

import (
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
)

// Canonical column names.
const (
	ColID            = "id"
	ColName          = "name"
	ColCategory      = "category"
	ColGroup         = "group"
	ColCost          = "cost"
	ColSeasonPoints  = "season_points"
	ColPointsPerGame = "points_per_game"
	ColForm          = "form"
	ColFormExtended  = "form_extended"
	ColMinutes       = "minutes"
	ColAppearances   = "appearances"
	ColOwnership     = "ownership"
	ColAge           = "age"
	ColRound         = "round"
	ColNextPoints    = "next_points"
)

// RequiredColumns must be present in every candidate table.
var RequiredColumns = []string{ColID, ColName, ColCategory, ColGroup, ColCost}

var aliases = map[string]string{
	"player_id":           ColID,
	"element":             ColID,
	"web_name":            ColName,
	"position":            ColCategory,
	"element_type":        ColCategory,
	"team":                ColGroup,
	"club":                ColGroup,
	"price":               ColCost,
	"total_points":        ColSeasonPoints,
	"ppg":                 ColPointsPerGame,
	"form_5":              ColForm,
	"last_5_points":       ColForm,
	"form_10":             ColFormExtended,
	"appearance_count":    ColAppearances,
	"starts":              ColAppearances,
	"selected_by_percent": ColOwnership,
	"gameweek":            ColRound,
	"gw":                  ColRound,
	"next_round_points":   ColNextPoints,
}

// MaxFixtures bounds the fixture index a header may name; a season has 38 rounds.
const MaxFixtures = 38

var fixtureColumn = regexp.MustCompile(`^fdr_(attack|defence|defense)(?:_(\d+))?$`)

// fixtureRef locates one fixture difficulty cell.
type fixtureRef struct {
	index  int
	attack bool
}

// header maps canonical names and fixture cells to column positions.
type header struct {
	cols     map[string]int
	fixtures map[int]fixtureRef
	count    int
}

func normalizeColumn(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if canon, ok := aliases[s]; ok {
		return canon
	}
	return s
}

func parseHeader(row []string) (header, error) {
	h := header{cols: make(map[string]int), fixtures: make(map[int]fixtureRef)}
	for i, raw := range row {
		name := normalizeColumn(raw)
		if name == "" {
			continue
		}
		if m := fixtureColumn.FindStringSubmatch(name); m != nil {
			idx := 1
			if m[2] != "" {
				var err error
				if idx, err = strconv.Atoi(m[2]); err != nil || idx > MaxFixtures {
					return header{}, apperrors.NewInputValidation("columns", "fixture column %q is beyond round %d", strings.TrimSpace(raw), MaxFixtures)
				}
			}
			if idx < 1 {
				continue
			}
			h.fixtures[i] = fixtureRef{index: idx, attack: m[1] == "attack"}
			if idx > h.count {
				h.count = idx
			}
			continue
		}
		if _, dup := h.cols[name]; !dup {
			h.cols[name] = i
		}
	}
	return h, nil
}

func (h header) missing(required []string) []string {
	var out []string
	for _, name := range required {
		if _, ok := h.cols[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}
