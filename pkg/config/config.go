// Package config loads the pipeline configuration from defaults, an
// optional .env file, an optional YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-contactgraph/pkg/extract"
	"github.com/dd0wney/cluso-contactgraph/pkg/graphstore/neo4jstore"
	"github.com/dd0wney/cluso-contactgraph/pkg/logging"
	"github.com/dd0wney/cluso-contactgraph/pkg/outputdb"
	"github.com/dd0wney/cluso-contactgraph/pkg/retry"
	"github.com/dd0wney/cluso-contactgraph/pkg/validation"
)

// Environment variables read by Load.
const (
	EnvConfigPath    = "CONTACTGRAPH_CONFIG"
	EnvNeo4jHostname = "NEO4J_HOSTNAME"
	EnvNeo4jUsername = "NEO4J_USERNAME"
	EnvNeo4jPassword = "NEO4J_PASSWORD"
	EnvLogLevel      = "LOG_LEVEL"
	EnvS3AccessKey   = "CONTACTGRAPH_S3_ACCESS_KEY_ID"
	EnvS3SecretKey   = "CONTACTGRAPH_S3_SECRET_ACCESS_KEY"
)

// ErrNoHostname is reported when the neo4j backend has no hostname.
var ErrNoHostname = errors.New(EnvNeo4jHostname + " is not set")

// Graph backends.
const (
	BackendNeo4j  = "neo4j"
	BackendMemory = "memory"
)

// Artifact sinks.
const (
	SinkDir = "dir"
	SinkS3  = "s3"
)

// Config is the full pipeline configuration.
type Config struct {
	BatchSize        int             `yaml:"batch_size"`
	HeaderRowsToSkip int             `yaml:"header_rows_to_skip"`
	SourcePaths      SourcePaths     `yaml:"source_paths"`
	StoreConnection  StoreConnection `yaml:"store_connection"`
	Retry            RetryConfig     `yaml:"retry"`
	Throttle         Throttle        `yaml:"throttle"`
	Parallel         Parallel        `yaml:"parallel"`
	Checkpoint       Checkpoint      `yaml:"checkpoint"`
	Output           Output          `yaml:"output"`
	Extract          Extract         `yaml:"extract"`
	Artifacts        Artifacts       `yaml:"artifacts"`
	Telemetry        Telemetry       `yaml:"telemetry"`
	Logging          Logging         `yaml:"logging"`
}

// SourcePaths locates the input files.
type SourcePaths struct {
	Persons        string `yaml:"persons"`
	InitialNetwork string `yaml:"initial_network"`
	NetworkDir     string `yaml:"network_dir"`
	NetworkPrefix  string `yaml:"network_prefix"`
	// Ticks restricts which network slices load_edges picks up. Empty means all.
	Ticks            []int  `yaml:"ticks"`
	SimulationOutput string `yaml:"simulation_output"`
}

type StoreConnection struct {
	Graph      GraphConnection      `yaml:"graph"`
	Relational RelationalConnection `yaml:"relational"`
}

type GraphConnection struct {
	Backend               string        `yaml:"backend"`
	URITemplate           string        `yaml:"uri_template"`
	Hostname              string        `yaml:"-"` // NEO4J_HOSTNAME only
	Username              string        `yaml:"username"`
	Password              string        `yaml:"password"`
	Database              string        `yaml:"database"`
	Edition               string        `yaml:"edition"`
	MaxConnectionLifetime time.Duration `yaml:"max_connection_lifetime"`
	MaxConnectionPoolSize int           `yaml:"max_connection_pool_size"`
}

// URI expands the template with the hostname.
func (g GraphConnection) URI() string {
	tmpl := validation.DefaultOr(g.URITemplate, neo4jstore.DefaultURITemplate)
	if !strings.Contains(tmpl, "%s") {
		return tmpl
	}
	return fmt.Sprintf(tmpl, g.Hostname)
}

type RelationalConnection struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

type RetryConfig struct {
	MaxAttempts        int           `yaml:"max_attempts"`
	InitialInterval    time.Duration `yaml:"initial_interval"`
	BackoffCoefficient float64       `yaml:"backoff_coefficient"`
	MaxInterval        time.Duration `yaml:"max_interval"`
}

// Throttle caps flush rate. Zero flushes_per_second disables it.
type Throttle struct {
	FlushesPerSecond float64 `yaml:"flushes_per_second"`
	Burst            int     `yaml:"burst"`
}

type Parallel struct {
	Workers int `yaml:"workers"`
}

type Checkpoint struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type Output struct {
	CommitEvery     int  `yaml:"commit_every"`
	FailOnRowErrors bool `yaml:"fail_on_row_errors"`
}

type Extract struct {
	ExitState string `yaml:"exit_state"`
	// Ticks restricts extraction to these ticks. Empty means every tick
	// with a pid in the exit state.
	Ticks             []int  `yaml:"ticks"`
	UseInitialNetwork bool   `yaml:"use_initial_network"`
	CoreBatchSize     int    `yaml:"core_batch_size"`
	PageSize          int    `yaml:"page_size"`
	Suffix            string `yaml:"suffix"`
	OutDir            string `yaml:"out_dir"`
	DurationBin       int    `yaml:"duration_bin"`
}

// Artifacts selects where extracted subgraphs go. The s3 keys may also
// come from CONTACTGRAPH_S3_ACCESS_KEY_ID and CONTACTGRAPH_S3_SECRET_ACCESS_KEY.
type Artifacts struct {
	Sink            string `yaml:"sink"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Telemetry addresses. Empty disables the endpoint.
type Telemetry struct {
	PublishAddr string `yaml:"publish_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	p := retry.DefaultPolicy()
	return &Config{
		BatchSize:        1000,
		HeaderRowsToSkip: 1,
		SourcePaths: SourcePaths{
			Persons:          "persontrait_epihiper.txt",
			InitialNetwork:   "network[-1]",
			NetworkDir:       ".",
			NetworkPrefix:    "network",
			SimulationOutput: "output.csv",
		},
		StoreConnection: StoreConnection{
			Graph: GraphConnection{
				Backend:               BackendNeo4j,
				URITemplate:           neo4jstore.DefaultURITemplate,
				Username:              "neo4j",
				Database:              "neo4j",
				Edition:               "community",
				MaxConnectionLifetime: time.Hour,
				MaxConnectionPoolSize: 100,
			},
			Relational: RelationalConnection{
				Driver: outputdb.DriverSQLite,
				DSN:    "epihiper_output.db",
				Table:  outputdb.DefaultTable,
			},
		},
		Retry: RetryConfig{
			MaxAttempts:        p.MaxAttempts,
			InitialInterval:    p.InitialInterval,
			BackoffCoefficient: p.BackoffCoefficient,
			MaxInterval:        p.MaxInterval,
		},
		Throttle: Throttle{Burst: 1},
		Parallel: Parallel{Workers: 1},
		Checkpoint: Checkpoint{
			Enabled: true,
			Dir:     ".contactgraph",
		},
		Output: Output{CommitEvery: 10000},
		Extract: Extract{
			ExitState:     "I",
			CoreBatchSize: 0,
			PageSize:      10000,
			Suffix:        "I",
			OutDir:        "subgraphs",
			DurationBin:   60,
		},
		Artifacts: Artifacts{Sink: SinkDir},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// CONTACTGRAPH_CONFIG is consulted; with neither, only defaults and the
// environment apply.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Unknown keys are rejected.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnv() {
	g := &c.StoreConnection.Graph
	g.Hostname = strings.TrimSpace(os.Getenv(EnvNeo4jHostname))
	g.Username = getEnv(EnvNeo4jUsername, g.Username)
	g.Password = getEnv(EnvNeo4jPassword, g.Password)
	c.Logging.Level = getEnv(EnvLogLevel, c.Logging.Level)
	c.Artifacts.AccessKeyID = getEnv(EnvS3AccessKey, c.Artifacts.AccessKeyID)
	c.Artifacts.SecretAccessKey = getEnv(EnvS3SecretKey, c.Artifacts.SecretAccessKey)
}

// Validate collects every invalid field.
func (c *Config) Validate() error {
	cv := validation.NewConfigValidator("config").
		Positive("batch_size", c.BatchSize).
		RangeInt("header_rows_to_skip", c.HeaderRowsToSkip, 1, 2).
		Positive("parallel.workers", c.Parallel.Workers)

	g := c.StoreConnection.Graph
	cv.OneOf("store_connection.graph.backend", g.Backend, []string{BackendNeo4j, BackendMemory}).
		OneOf("store_connection.graph.edition", strings.ToLower(g.Edition), []string{"community", "enterprise"}).
		When(g.Backend == BackendNeo4j, func(v *validation.ConfigValidator) {
			v.Custom("store_connection.graph.hostname", func() error {
				if strings.TrimSpace(g.Hostname) == "" {
					return ErrNoHostname
				}
				return nil
			}).
				NonNegative("store_connection.graph.max_connection_pool_size", g.MaxConnectionPoolSize)
		})

	r := c.StoreConnection.Relational
	cv.OneOf("store_connection.relational.driver", r.Driver, []string{outputdb.DriverSQLite, outputdb.DriverPostgres}).
		Required("store_connection.relational.dsn", r.DSN).
		Custom("store_connection.relational.table", func() error { return outputdb.ValidateTable(r.Table) })

	cv.Positive("retry.max_attempts", c.Retry.MaxAttempts).
		When(c.Retry.MaxAttempts > 1, func(v *validation.ConfigValidator) {
			v.PositiveDuration("retry.initial_interval", c.Retry.InitialInterval).
				MinFloat("retry.backoff_coefficient", c.Retry.BackoffCoefficient, 1).
				DurationNotBelow("retry.max_interval", c.Retry.MaxInterval, c.Retry.InitialInterval)
		})

	cv.MinFloat("throttle.flushes_per_second", c.Throttle.FlushesPerSecond, 0).
		When(c.Throttle.FlushesPerSecond > 0, func(v *validation.ConfigValidator) {
			v.Positive("throttle.burst", c.Throttle.Burst)
		})

	cv.When(c.Checkpoint.Enabled, func(v *validation.ConfigValidator) {
		v.Required("checkpoint.dir", c.Checkpoint.Dir)
	})

	cv.Positive("output.commit_every", c.Output.CommitEvery)

	cv.Required("extract.exit_state", c.Extract.ExitState).
		NonNegative("extract.core_batch_size", c.Extract.CoreBatchSize).
		Positive("extract.page_size", c.Extract.PageSize).
		Positive("extract.duration_bin", c.Extract.DurationBin)

	cv.OneOf("artifacts.sink", c.Artifacts.Sink, []string{SinkDir, SinkS3}).
		When(c.Artifacts.Sink == SinkS3, func(v *validation.ConfigValidator) {
			v.Required("artifacts.bucket", c.Artifacts.Bucket).
				When((c.Artifacts.AccessKeyID == "") != (c.Artifacts.SecretAccessKey == ""), func(v *validation.ConfigValidator) {
					v.Custom("artifacts.access_key_id", func() error {
						return errors.New("access key id and secret access key must be set together")
					})
				})
		}).
		When(c.Artifacts.Sink == SinkDir, func(v *validation.ConfigValidator) {
			v.Required("extract.out_dir", c.Extract.OutDir)
		})

	cv.OneOf("logging.level", strings.ToLower(c.Logging.Level), []string{"debug", "info", "warn", "warning", "error"}).
		NonNegative("logging.max_size_mb", c.Logging.MaxSizeMB).
		NonNegative("logging.max_backups", c.Logging.MaxBackups).
		NonNegative("logging.max_age_days", c.Logging.MaxAgeDays)

	return cv.Validate()
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:        c.Retry.MaxAttempts,
		InitialInterval:    c.Retry.InitialInterval,
		BackoffCoefficient: c.Retry.BackoffCoefficient,
		MaxInterval:        c.Retry.MaxInterval,
	}
}

// Limiter returns the flush throttle, or nil when throttling is off.
func (c *Config) Limiter() *rate.Limiter {
	if c.Throttle.FlushesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.Throttle.FlushesPerSecond), max(c.Throttle.Burst, 1))
}

// LoggingOptions converts the logging section.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      logging.ParseLevel(c.Logging.Level),
		Name:       "contactgraph",
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

// S3 returns the artifact bucket settings.
func (c *Config) S3() extract.S3Config {
	a := c.Artifacts
	return extract.S3Config{
		Bucket:          a.Bucket,
		Prefix:          a.Prefix,
		Region:          a.Region,
		Endpoint:        a.Endpoint,
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
	}
}

// OutputDB returns the relational store settings.
func (c *Config) OutputDB() outputdb.Config {
	r := c.StoreConnection.Relational
	return outputdb.Config{Driver: r.Driver, DSN: r.DSN, Table: r.Table}
}
