package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// Load builds a Config from defaults, an optional YAML file named by
// CUTOVER_CONFIG_FILE, and environment variables, in that order of precedence
// (environment wins). The result is validated.
func Load() (Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith is Load with an injectable environment
func LoadWith(lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path, ok := lookup("CUTOVER_CONFIG_FILE"); ok && path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) int(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) int64(key string, dst *int64) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) bool(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

// duration accepts Go duration syntax ("5s", "250ms") or a bare number of seconds.
func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := ParseSeconds(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

// ParseSeconds parses "1.5" as 1.5s and anything else with time.ParseDuration.
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	r := &envReader{lookup: lookup}

	r.str("PRIMARY_HOST", &cfg.Primary.Host)
	r.int("PRIMARY_PORT", &cfg.Primary.Port)
	r.str("REPLICA_HOST", &cfg.Standby.Host)
	r.int("REPLICA_PORT", &cfg.Standby.Port)

	// Both instances share database name and credentials
	for _, db := range []*DatabaseConfig{&cfg.Primary, &cfg.Standby} {
		r.str("POSTGRES_DB", &db.Database)
		r.str("POSTGRES_USER", &db.User)
		r.str("POSTGRES_PASSWORD", &db.Password)
	}

	r.str("REPLICATION_APPLICATION_NAME", &cfg.Replication.ApplicationName)
	r.str("REPLICATION_SLOT_NAME", &cfg.Replication.SlotName)

	r.int64("LAG_THRESHOLD_BYTES", &cfg.SyncGate.Bytes)
	r.duration("LAG_THRESHOLD_SECONDS", &cfg.SyncGate.ReplayLag)
	r.int64("WARN_BYTE_LAG", &cfg.Warning.Warn.Bytes)
	r.duration("WARN_REPLAY_LAG_SECONDS", &cfg.Warning.Warn.ReplayLag)
	r.int64("FINAL_VERIFY_MAX_BYTES", &cfg.FinalVerify.MaxBytes)
	r.duration("FINAL_VERIFY_MAX_REPLAY_LAG_SECONDS", &cfg.FinalVerify.MaxReplayLag)

	r.duration("MONITORING_INTERVAL", &cfg.MonitorInterval)
	r.str("METRICS_ADDR", &cfg.MetricsAddr)

	r.bool("CUTOVER_DRY_RUN", &cfg.Cutover.DryRun)
	r.duration("CUTOVER_MAX_WAIT", &cfg.Cutover.MaxWait)
	r.duration("CUTOVER_SYNC_CHECK_INTERVAL", &cfg.Cutover.SyncCheckInterval)

	r.str("MONITORING_LOG_DIR", &cfg.Report.LogDir)
	r.str("CUTOVER_REPORT_S3_BUCKET", &cfg.Report.S3Bucket)
	r.str("CUTOVER_REPORT_S3_PREFIX", &cfg.Report.S3Prefix)

	r.int("WRITE_OPERATIONS_PER_SECOND", &cfg.Load.OperationsPerSecond)
	r.int("WRITE_WORKERS", &cfg.Load.Workers)

	r.str("LOG_LEVEL", &cfg.LogLevel)

	return errors.Join(r.errs...)
}
