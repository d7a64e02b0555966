// Package config loads the server's flat key=value configuration file
// (spec.md §6) and layers ambient enrichments on top: environment
// variable overrides for operators, and sizing knobs for components the
// distilled spec doesn't parameterize (worker count, keyspace shard
// count, rate limiting, metrics endpoint).
package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Verbose    bool   `env:"ODINKV_VERBOSE"`
	Port       int    `env:"ODINKV_PORT"`
	Timeout    int    `env:"ODINKV_TIMEOUT"` // seconds; 0 disables the idle timeout
	DBFilename string `env:"ODINKV_DBFILENAME"`
	LogFile    string `env:"ODINKV_LOGFILE"`
	IP         string `env:"ODINKV_IP"`

	// Ambient enrichment, not part of the spec's config-file grammar,
	// but tunable via the same environment-override mechanism.
	WorkerCount     int     `env:"ODINKV_WORKERS"`
	ShardCount      int     `env:"ODINKV_SHARDS"`
	RateLimitPerSec float64 `env:"ODINKV_RATE_LIMIT"`
	RateLimitBurst  int     `env:"ODINKV_RATE_BURST"`
	MetricsAddr     string  `env:"ODINKV_METRICS_ADDR"`
	LogLevel        string  `env:"ODINKV_LOG_LEVEL"`
	SnapshotEvery   int     `env:"ODINKV_SNAPSHOT_SECONDS"` // 0 uses the spec default of 10 minutes
	CPURejectPct    float64 `env:"ODINKV_CPU_REJECT_PCT"`   // 0 disables the snapshot CPU guard
}

// Defaults match spec.md §6 exactly for the spec'd fields, and pick
// reasonable values for the enrichment fields.
func Defaults() Config {
	return Config{
		Verbose:         false,
		Port:            6379,
		Timeout:         0,
		DBFilename:      "dump.rdb",
		LogFile:         "logfile.txt",
		IP:              "127.0.0.1",
		WorkerCount:     32,
		ShardCount:      16,
		RateLimitPerSec: 0,
		RateLimitBurst:  0,
		MetricsAddr:     "",
		LogLevel:        "info",
		SnapshotEvery:   600,
		CPURejectPct:    0,
	}
}

// Load resolves configuration from, in order: the built-in defaults,
// the config file at path (if non-empty — the single optional CLI
// argument, spec.md §6), then process environment variable overrides.
//
// An empty path is not an error: the server starts with defaults, as
// spec.md's CLI describes the argument as optional. A non-empty path
// that cannot be read or parsed IS a fatal configuration error (spec.md
// §6 exit codes), unlike the snapshotter's tolerant missing-file
// handling.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		values, err := godotenv.Read(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := applyFileValues(&cfg, values); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment overrides: %w", err)
	}
	return cfg, nil
}

// applyFileValues maps the recognized spec.md keys onto cfg. It
// lowercases each key and strips spaces from keys and values before
// matching; unknown keys are ignored (spec.md §6).
func applyFileValues(cfg *Config, values map[string]string) error {
	normalized := make(map[string]string, len(values))
	for k, v := range values {
		key := strings.ToLower(strings.ReplaceAll(k, " ", ""))
		normalized[key] = strings.ReplaceAll(v, " ", "")
	}

	if v, ok := normalized["verbose"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid verbose %q: %w", v, err)
		}
		cfg.Verbose = n != 0
	}
	if v, ok := normalized["port"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("config: invalid port %q", v)
		}
		cfg.Port = n
	}
	if v, ok := normalized["timeout"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("config: invalid timeout %q", v)
		}
		cfg.Timeout = n
	}
	if v, ok := normalized["dbfilename"]; ok {
		cfg.DBFilename = v
	}
	if v, ok := normalized["logfile"]; ok {
		cfg.LogFile = v
	}
	if v, ok := normalized["ip"]; ok {
		cfg.IP = v
	}
	return nil
}

// Addr returns the "host:port" string the listener should bind.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}

// Store is a mutex-guarded Config, letting CONFIG GET/CONFIG SET mutate
// the spec.md §6 fields at runtime without racing the rest of the
// server, which only ever reads a consistent Snapshot().
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Get returns the string representation of the named field, as
// CONFIG GET reports it, and whether the field is recognized.
func (s *Store) Get(field string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch strings.ToLower(field) {
	case "verbose":
		return boolToFlag(s.cfg.Verbose), true
	case "port":
		return strconv.Itoa(s.cfg.Port), true
	case "timeout":
		return strconv.Itoa(s.cfg.Timeout), true
	case "dbfilename":
		return s.cfg.DBFilename, true
	case "logfile":
		return s.cfg.LogFile, true
	case "ip":
		return s.cfg.IP, true
	default:
		return "", false
	}
}

// All returns every recognized field and its current value, for
// CONFIG GET *.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]string{
		"verbose":    boolToFlag(s.cfg.Verbose),
		"port":       strconv.Itoa(s.cfg.Port),
		"timeout":    strconv.Itoa(s.cfg.Timeout),
		"dbfilename": s.cfg.DBFilename,
		"logfile":    s.cfg.LogFile,
		"ip":         s.cfg.IP,
	}
}

// Set applies a CONFIG SET to the named field, validating it the same
// way applyFileValues does for the config file.
func (s *Store) Set(field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch strings.ToLower(field) {
	case "verbose":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: invalid verbose %q: %w", value, err)
		}
		s.cfg.Verbose = n != 0
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("config: invalid port %q", value)
		}
		s.cfg.Port = n
	case "timeout":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("config: invalid timeout %q", value)
		}
		s.cfg.Timeout = n
	case "dbfilename":
		s.cfg.DBFilename = value
	case "logfile":
		s.cfg.LogFile = value
	case "ip":
		s.cfg.IP = value
	default:
		return fmt.Errorf("config: unknown field %q", field)
	}
	return nil
}

func boolToFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
