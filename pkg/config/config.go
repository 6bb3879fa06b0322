package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// ConsecutiveRequired is the number of back-to-back in-threshold snapshots the
// sync gate needs before it reports readiness. It is not configurable.
const ConsecutiveRequired = 3

// DatabaseConfig holds connection parameters for one PostgreSQL instance
type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Database string `yaml:"database" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
}

// Addr returns host:port
func (d DatabaseConfig) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// ConnString returns a postgres:// URL suitable for pgxpool.ParseConfig
func (d DatabaseConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Addr(),
		Path:   "/" + d.Database,
	}
	return u.String()
}

// LagThresholds is one tier of byte/time lag limits
type LagThresholds struct {
	Bytes     int64         `yaml:"bytes" validate:"min=0"`
	ReplayLag time.Duration `yaml:"replay_lag" validate:"min=0"`
}

// WarningThresholds drive the collector's warnings; exceeding them makes a
// snapshot unhealthy. InSync is the stricter bound for the derived is_in_sync flag.
type WarningThresholds struct {
	Warn   LagThresholds `yaml:"warn"`
	InSync LagThresholds `yaml:"in_sync"`
}

// FinalVerifyConfig is the last gate before promotion
type FinalVerifyConfig struct {
	MaxBytes     int64         `yaml:"max_bytes" validate:"min=0"`
	MaxReplayLag time.Duration `yaml:"max_replay_lag" validate:"gt=0"`
	SettleDelay  time.Duration `yaml:"settle_delay" validate:"min=0"`
}

// ReplicationConfig names the replication channel under observation
type ReplicationConfig struct {
	ApplicationName string `yaml:"application_name" validate:"required"`
	SlotName        string `yaml:"slot_name" validate:"required"`
}

// CutoverConfig holds the orchestration knobs exposed on the CLI
type CutoverConfig struct {
	DryRun            bool          `yaml:"dry_run"`
	MaxWait           time.Duration `yaml:"max_wait" validate:"gt=0"`
	SyncCheckInterval time.Duration `yaml:"sync_check_interval" validate:"gt=0"`
	PromoteTimeout    time.Duration `yaml:"promote_timeout" validate:"gt=0"`
	PromotePoll       time.Duration `yaml:"promote_poll" validate:"gt=0"`
}

// ReportConfig controls where cutover reports and the metrics log go
type ReportConfig struct {
	LogDir   string `yaml:"log_dir" validate:"required"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
}

// LoadConfig drives the synthetic write-load generator
type LoadConfig struct {
	OperationsPerSecond int `yaml:"operations_per_second" validate:"min=1"`
	Workers             int `yaml:"workers" validate:"min=1"`
}

// Config is the complete, run-scoped configuration. It is built once in main
// and passed by value into constructors.
type Config struct {
	Primary     DatabaseConfig    `yaml:"primary"`
	Standby     DatabaseConfig    `yaml:"standby"`
	Replication ReplicationConfig `yaml:"replication"`

	Warning     WarningThresholds `yaml:"warning"`
	SyncGate    LagThresholds     `yaml:"sync_gate"`
	FinalVerify FinalVerifyConfig `yaml:"final_verify"`

	MonitorInterval time.Duration `yaml:"monitor_interval" validate:"gt=0"`
	MetricsAddr     string        `yaml:"metrics_addr"`

	Cutover CutoverConfig `yaml:"cutover"`
	Report  ReportConfig  `yaml:"report"`
	Load    LoadConfig    `yaml:"load"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no environment is set
func Default() Config {
	return Config{
		Primary: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "testdb",
			User:     "postgres",
			Password: "postgres",
		},
		Standby: DatabaseConfig{
			Host:     "localhost",
			Port:     5433,
			Database: "testdb",
			User:     "postgres",
			Password: "postgres",
		},
		Replication: ReplicationConfig{
			ApplicationName: "replica1",
			SlotName:        "replica_slot",
		},
		Warning: WarningThresholds{
			Warn:   LagThresholds{Bytes: 1024 * 1024, ReplayLag: 5 * time.Second},
			InSync: LagThresholds{Bytes: 1024, ReplayLag: time.Second},
		},
		SyncGate: LagThresholds{Bytes: 1024, ReplayLag: time.Second},
		FinalVerify: FinalVerifyConfig{
			MaxBytes:     0,
			MaxReplayLag: 100 * time.Millisecond,
			SettleDelay:  2 * time.Second,
		},
		MonitorInterval: 5 * time.Second,
		Cutover: CutoverConfig{
			MaxWait:           300 * time.Second,
			SyncCheckInterval: 5 * time.Second,
			PromoteTimeout:    30 * time.Second,
			PromotePoll:       time.Second,
		},
		Report: ReportConfig{
			LogDir:   "logs/monitoring",
			S3Prefix: "cutover-reports/",
		},
		Load: LoadConfig{
			OperationsPerSecond: 100,
			Workers:             10,
		},
		LogLevel: "info",
	}
}

// String renders the config without credentials
func (c Config) String() string {
	return fmt.Sprintf("primary=%s standby=%s app=%s slot=%s dry_run=%t max_wait=%s interval=%s",
		c.Primary.Addr(), c.Standby.Addr(), c.Replication.ApplicationName, c.Replication.SlotName,
		c.Cutover.DryRun, c.Cutover.MaxWait, c.Cutover.SyncCheckInterval)
}
