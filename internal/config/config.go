// Package config loads contribledger settings from CONTRIBLEDGER_* environment
// variables.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"contribledger/internal/auth"
	"contribledger/internal/blob"
	"contribledger/internal/core"
)

// Prefix is prepended to every variable name.
const Prefix = "CONTRIBLEDGER_"

// DefaultHealthInterval spaces record store connection checks.
const DefaultHealthInterval = 15 * time.Second

// Metrics backends.
const (
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
	MetricsNone       = "none"
)

// Config is the daemon configuration.
type Config struct {
	Storage core.StorageConfig

	BlobDriver blob.Driver
	BlobS3     blob.S3Config

	Deadline            time.Time
	FallbackCap         float64
	MinimumContribution float64
	QueueWindow         int

	AllocationsFile string
	AllocationsDSN  string

	ModeratorEmails []string
	ModeratorTokens map[string]string

	ListenAddr string
	LogLevel   string
	LogFile    string
	Metrics    string

	// TraceFile receives one JSON line per service operation when set.
	TraceFile string

	// HealthInterval is how often the record store connection is checked.
	HealthInterval time.Duration
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads configuration through lookup, which has the signature of
// os.LookupEnv.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	get := func(name, def string) string {
		if v, ok := lookup(Prefix + name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	cfg := Config{
		Storage: core.StorageConfig{
			Driver:      core.StorageDriver(strings.ToLower(get("STORAGE_DRIVER", string(core.StorageSQLite)))),
			SQLitePath:  get("SQLITE_PATH", ""),
			PostgresDSN: get("POSTGRES_DSN", ""),
		},
		BlobDriver: blob.Driver(strings.ToLower(get("BLOB_DRIVER", string(blob.DriverMemory)))),
		BlobS3: blob.S3Config{
			Bucket:    get("BLOB_S3_BUCKET", ""),
			Region:    get("BLOB_S3_REGION", ""),
			Endpoint:  get("BLOB_S3_ENDPOINT", ""),
			PathStyle: strings.EqualFold(get("BLOB_S3_PATH_STYLE", "false"), "true"),
		},
		AllocationsFile: get("ALLOCATIONS_FILE", ""),
		AllocationsDSN:  get("ALLOCATIONS_DSN", ""),
		ListenAddr:      get("LISTEN_ADDR", ":8080"),
		LogLevel:        strings.ToLower(get("LOG_LEVEL", "info")),
		LogFile:         get("LOG_FILE", ""),
		Metrics:         strings.ToLower(get("METRICS", MetricsExpvar)),
		TraceFile:       get("TRACE_FILE", ""),
		HealthInterval:  DefaultHealthInterval,
	}

	var err error
	if raw := get("DEADLINE", ""); raw != "" {
		if cfg.Deadline, err = time.Parse(time.RFC3339, raw); err != nil {
			return Config{}, fmt.Errorf("%sDEADLINE: %w", Prefix, err)
		}
	}
	if cfg.FallbackCap, err = parsePositive(get("FALLBACK_CAP", ""), core.DefaultFallbackCap); err != nil {
		return Config{}, fmt.Errorf("%sFALLBACK_CAP: %w", Prefix, err)
	}
	if cfg.MinimumContribution, err = parsePositive(get("MIN_CONTRIBUTION", ""), core.DefaultMinimumContribution); err != nil {
		return Config{}, fmt.Errorf("%sMIN_CONTRIBUTION: %w", Prefix, err)
	}
	if raw := get("HEALTH_INTERVAL", ""); raw != "" {
		d, convErr := time.ParseDuration(raw)
		if convErr != nil || d <= 0 {
			return Config{}, fmt.Errorf("%sHEALTH_INTERVAL: must be a positive duration", Prefix)
		}
		cfg.HealthInterval = d
	}
	cfg.QueueWindow = core.DefaultQueueWindow
	if raw := get("QUEUE_WINDOW", ""); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			return Config{}, fmt.Errorf("%sQUEUE_WINDOW: must be a positive integer", Prefix)
		}
		cfg.QueueWindow = n
	}
	for _, e := range strings.Split(get("MODERATOR_EMAILS", ""), ",") {
		if e = strings.TrimSpace(e); e != "" {
			cfg.ModeratorEmails = append(cfg.ModeratorEmails, e)
		}
	}
	if cfg.ModeratorTokens, err = auth.ParseTokenList(get("MODERATOR_TOKENS", "")); err != nil {
		return Config{}, fmt.Errorf("%sMODERATOR_TOKENS: %w", Prefix, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%sPOSTGRES_DSN required for postgres storage", Prefix)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.BlobDriver {
	case blob.DriverMemory:
	case blob.DriverS3:
		if c.BlobS3.Bucket == "" {
			return fmt.Errorf("%sBLOB_S3_BUCKET required for s3 blob driver", Prefix)
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.BlobDriver)
	}
	switch c.Metrics {
	case MetricsExpvar, MetricsPrometheus, MetricsNone:
	default:
		return fmt.Errorf("unknown metrics backend %q", c.Metrics)
	}
	if c.AllocationsFile != "" && c.AllocationsDSN != "" {
		return fmt.Errorf("set only one of %sALLOCATIONS_FILE and %sALLOCATIONS_DSN", Prefix, Prefix)
	}
	if c.MinimumContribution > c.FallbackCap {
		return fmt.Errorf("minimum contribution %g exceeds fallback cap %g", c.MinimumContribution, c.FallbackCap)
	}
	return nil
}

func parsePositive(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("must be finite, got %g", v)
	}
	if v <= 0 {
		return 0, fmt.Errorf("must be positive, got %g", v)
	}
	return v, nil
}
