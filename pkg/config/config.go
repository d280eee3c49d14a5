package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

type Config struct {
	// Server
	Port     string `mapstructure:"port"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	// Backing services, all optional
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	NATSURL     string `mapstructure:"nats_url"`

	Cache   CacheConfig   `mapstructure:"cache"`
	Budget  BudgetConfig  `mapstructure:"budget"`
	Squad   SquadConfig   `mapstructure:"squad"`
	Lineup  LineupConfig  `mapstructure:"lineup"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	Solver  SolverConfig  `mapstructure:"solver"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

type BudgetConfig struct {
	Default float64 `mapstructure:"default"`
	Min     float64 `mapstructure:"min"`
	Max     float64 `mapstructure:"max"`
}

type SquadConfig struct {
	Quotas   map[string]int `mapstructure:"quotas"`
	GroupCap int            `mapstructure:"group_cap"`
}

type LineupConfig struct {
	Starters             int            `mapstructure:"starters"`
	StarterMin           map[string]int `mapstructure:"starter_min"`
	StarterMax           map[string]int `mapstructure:"starter_max"`
	ReserveKeeperLast    bool           `mapstructure:"reserve_keeper_last"`
	MaxExpensiveReserves int            `mapstructure:"max_expensive_reserves"`
	ExpensiveThreshold   float64        `mapstructure:"expensive_threshold"`
}

type ScoringConfig struct {
	Mode          string             `mapstructure:"mode"`
	Lookahead     int                `mapstructure:"lookahead"`
	Weights       map[string]float64 `mapstructure:"weights"`
	WeightsFile   string             `mapstructure:"weights_file"`
	StrongGroups  []string           `mapstructure:"strong_groups"`
	ArtifactsPath string             `mapstructure:"artifacts_path"`
	SanityRatio   float64            `mapstructure:"sanity_ratio"`
	MarkovBlend   float64            `mapstructure:"markov_blend"`
}

type SolverConfig struct {
	MaxNodes   int           `mapstructure:"max_nodes"`
	TimeLimit  time.Duration `mapstructure:"time_limit"`
	Relaxation string        `mapstructure:"relaxation"`
}

// LoadConfig reads defaults, an optional YAML file and SQUAD_* environment overrides.
// An empty path searches ./config.yaml and ./config/config.yaml.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SQUAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("nats_url", "")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_age", "15m")

	v.SetDefault("budget.default", 100.0)
	v.SetDefault("budget.min", 80.0)
	v.SetDefault("budget.max", 120.0)

	v.SetDefault("squad.quotas", map[string]int{"GKP": 2, "DEF": 5, "MID": 5, "FWD": 3})
	v.SetDefault("squad.group_cap", 3)

	v.SetDefault("lineup.starters", 11)
	v.SetDefault("lineup.starter_min", map[string]int{"GKP": 1, "DEF": 3, "MID": 2, "FWD": 1})
	v.SetDefault("lineup.starter_max", map[string]int{"GKP": 1, "DEF": 5, "MID": 5, "FWD": 3})
	v.SetDefault("lineup.reserve_keeper_last", true)
	v.SetDefault("lineup.max_expensive_reserves", -1)
	v.SetDefault("lineup.expensive_threshold", 0.0)

	v.SetDefault("scoring.mode", string(types.ScoringDeterministic))
	v.SetDefault("scoring.lookahead", 3)
	v.SetDefault("scoring.weights", map[string]float64{})
	v.SetDefault("scoring.weights_file", "")
	v.SetDefault("scoring.strong_groups", []string{})
	v.SetDefault("scoring.artifacts_path", "")
	v.SetDefault("scoring.sanity_ratio", 3.0)
	v.SetDefault("scoring.markov_blend", 0.3)

	v.SetDefault("solver.max_nodes", 200000)
	v.SetDefault("solver.time_limit", "20s")
	v.SetDefault("solver.relaxation", "dp")
}

// Validate rejects out-of-range settings before anything is built from them.
func (c *Config) Validate() error {
	if c.Budget.Min <= 0 || c.Budget.Min > c.Budget.Max {
		return apperrors.NewInputValidation("budget", "range %.1f-%.1f is empty", c.Budget.Min, c.Budget.Max)
	}
	if c.Budget.Default < c.Budget.Min || c.Budget.Default > c.Budget.Max {
		return apperrors.NewInputValidation("budget.default", "%.1f outside %.1f-%.1f", c.Budget.Default, c.Budget.Min, c.Budget.Max)
	}
	if _, err := c.CategoryQuotas(); err != nil {
		return err
	}
	if c.Squad.GroupCap <= 0 {
		return apperrors.NewInputValidation("squad.group_cap", "must be positive, got %d", c.Squad.GroupCap)
	}
	if !types.ScoringMode(c.Scoring.Mode).Valid() {
		return apperrors.NewInputValidation("scoring.mode", "unknown mode %q", c.Scoring.Mode)
	}
	if c.Scoring.Lookahead < 1 {
		return apperrors.NewInputValidation("scoring.lookahead", "must be at least 1, got %d", c.Scoring.Lookahead)
	}
	if c.Scoring.SanityRatio <= 0 {
		return apperrors.NewInputValidation("scoring.sanity_ratio", "must be positive")
	}
	if c.Scoring.MarkovBlend < 0 || c.Scoring.MarkovBlend > 1 {
		return apperrors.NewInputValidation("scoring.markov_blend", "must be within [0, 1]")
	}
	if c.Solver.MaxNodes <= 0 {
		return apperrors.NewInputValidation("solver.max_nodes", "must be positive, got %d", c.Solver.MaxNodes)
	}
	if c.Solver.TimeLimit <= 0 {
		return apperrors.NewInputValidation("solver.time_limit", "must be positive")
	}
	switch c.Solver.Relaxation {
	case "dp", "lp":
	default:
		return apperrors.NewInputValidation("solver.relaxation", "unknown relaxation %q", c.Solver.Relaxation)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return apperrors.NewInputValidation("cache.backend", "unknown backend %q", c.Cache.Backend)
	}
	return nil
}

// CategoryQuotas converts the quota map into typed categories.
func (c *Config) CategoryQuotas() (map[types.Category]int, error) {
	return parseCategoryMap("squad.quotas", c.Squad.Quotas)
}

// StarterBounds converts the lineup floors and ceilings into typed categories.
func (c *Config) StarterBounds() (floors, ceilings map[types.Category]int, err error) {
	if floors, err = parseCategoryMap("lineup.starter_min", c.Lineup.StarterMin); err != nil {
		return nil, nil, err
	}
	if ceilings, err = parseCategoryMap("lineup.starter_max", c.Lineup.StarterMax); err != nil {
		return nil, nil, err
	}
	return floors, ceilings, nil
}

func parseCategoryMap(field string, raw map[string]int) (map[types.Category]int, error) {
	out := make(map[types.Category]int, len(raw))
	for k, n := range raw {
		cat, err := types.ParseCategory(k)
		if err != nil {
			return nil, apperrors.NewInputValidation(field, "%v", err)
		}
		if n < 0 {
			return nil, apperrors.NewInputValidation(field, "%s must not be negative", cat)
		}
		out[cat] = n
	}
	return out, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
