package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"lapse-cohort/pkg/models"
)

// Cache modes.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Dimension filter presets.
const (
	FilterNone    = "none"
	FilterAccount = "account"
)

// DimensionTable maps a dimension name to its warehouse relation and the predicate
// applied to its rows.
type DimensionTable struct {
	Name   string `validate:"required"`
	Table  string `validate:"required"`
	Filter models.DimensionFilter
}

// Config holds the process configuration. Run parameters come from flags.
type Config struct {
	// Warehouse
	DSN             string           `validate:"required"`
	LedgerTable     string           `validate:"required"`
	ChargesTable    string           `validate:"required"`
	ExclusionsTable string           `validate:"required"`
	DimensionTables []DimensionTable `validate:"dive"`

	// Query cache
	CacheMode     string `validate:"oneof=none memory redis"`
	CacheTTL      time.Duration
	RedisAddr     string `validate:"required_if=CacheMode redis"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	// App settings
	LogLevel   string
	PrettyLogs bool
	ShardCount int `validate:"gte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads the environment, after loading envFile when it exists.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	// the built-in dimension list is the subscriber dimension with its account predicate
	rawDims, set := os.LookupEnv("LAPSE_DIMENSION_TABLES")
	preset := FilterNone
	if !set {
		rawDims, preset = "subscriber=subscriber_dim", FilterAccount
	}
	dims, err := parseDimensionTables(rawDims)
	if err != nil {
		return nil, err
	}
	for i := range dims {
		if dims[i].Filter, err = dimensionFilter(dims[i].Name, preset); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		// Warehouse
		DSN:             getEnv("LAPSE_DSN", ""),
		LedgerTable:     getEnv("LAPSE_LEDGER_TABLE", "ledger_events"),
		ChargesTable:    getEnv("LAPSE_CHARGES_TABLE", "charge_facts"),
		ExclusionsTable: getEnv("LAPSE_EXCLUSIONS_TABLE", "opt_out_subscribers"),
		DimensionTables: dims,

		// Query cache
		CacheMode:     getEnv("LAPSE_CACHE", CacheNone),
		CacheTTL:      getEnvAsDuration("LAPSE_CACHE_TTL", 6*time.Hour),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// App settings
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		PrettyLogs: getEnvAsBool("PRETTY_LOGS", false),
		ShardCount: getEnvAsInt("LAPSE_SHARDS", 4),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseDimensionTables reads "name=table" pairs separated by commas. A bare table name
// is also its dimension name. Order is the join order.
func parseDimensionTables(raw string) ([]DimensionTable, error) {
	var out []DimensionTable
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, table, found := strings.Cut(part, "=")
		if !found {
			table = name
		}
		name, table = strings.TrimSpace(name), strings.TrimSpace(table)
		if name == "" || table == "" {
			return nil, fmt.Errorf("invalid dimension table %q", part)
		}
		out = append(out, DimensionTable{Name: name, Table: table})
	}
	return out, nil
}

// dimensionFilter reads the predicate of one dimension from LAPSE_DIM_<NAME>_FILTER
// (a preset, "none" or "account") and the per-field overrides LAPSE_DIM_<NAME>_STATUSES,
// _PRODUCT, _EXCLUDE_GOVERNMENT and _EXCLUDED_SERVICE_NUMBERS.
func dimensionFilter(name, defaultPreset string) (models.DimensionFilter, error) {
	prefix := "LAPSE_DIM_" + envName(name) + "_"

	var f models.DimensionFilter
	switch preset := strings.ToLower(getEnv(prefix+"FILTER", defaultPreset)); preset {
	case FilterNone:
	case FilterAccount:
		f = models.DefaultDimensionFilter()
	default:
		return f, fmt.Errorf("dimension %s: unknown filter preset %q", name, preset)
	}

	f.ExcludeGovernment = getEnvAsBool(prefix+"EXCLUDE_GOVERNMENT", f.ExcludeGovernment)
	f.Statuses = getEnvAsSlice(prefix+"STATUSES", f.Statuses, ",")
	f.Product = getEnv(prefix+"PRODUCT", f.Product)
	f.ExcludedServiceNumbers = getEnvAsSlice(prefix+"EXCLUDED_SERVICE_NUMBERS", f.ExcludedServiceNumbers, ",")
	return f, nil
}

// envName upper-cases a dimension name and replaces everything but letters and digits
// with underscores.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, name)
}

// Helper functions for parsing environment variables
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultVal
	}
	parts := strings.Split(valStr, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
