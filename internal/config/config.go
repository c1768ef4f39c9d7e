// Package config assembles the DevLens configuration from layered partial
// sources: embedded defaults, an optional YAML file, and environment
// overrides with the DEVLENS_ prefix. Merge is last-wins per key;
// finalization fills typed defaults, resolves secret references and
// enforces cross-field constraints.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/devlens-io/devlens/internal/audit"
)

// Config is the finalized root configuration.
type Config struct {
	Env          string      `mapstructure:"env"`
	HTTPAddr     string      `mapstructure:"http_addr"`
	MetricsAddr  string      `mapstructure:"metrics_addr"`
	LogLevel     string      `mapstructure:"log_level"`
	IngestAPIKey string      `mapstructure:"ingest_api_key"`
	DatabaseDSN  string      `mapstructure:"database_dsn"`
	Audit        AuditConfig `mapstructure:"audit"`
}

// AuditConfig is the audit section of the configuration.
type AuditConfig struct {
	QueueCapacity        int              `mapstructure:"queue_capacity"`
	QueueOverflowPolicy  string           `mapstructure:"queue_overflow_policy"`
	SinkCapacity         int              `mapstructure:"sink_capacity"`
	DefaultRetentionDays int              `mapstructure:"default_retention_days"`
	DrainDeadline        time.Duration    `mapstructure:"drain_deadline"`
	PublishTimeout       time.Duration    `mapstructure:"publish_timeout"`
	Sinks                []audit.SinkSpec `mapstructure:"sinks"`
}

// SecretResolver resolves a logical secret name to its value. The default
// implementation reads NAME from the environment, falling back to the file
// named by NAME_FILE. Secrets never appear in serialized configuration.
type SecretResolver func(ref string) (string, error)

// EnvSecretResolver is the production resolver.
func EnvSecretResolver(ref string) (string, error) {
	name := strings.ToUpper(strings.ReplaceAll(ref, "-", "_"))
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, nil
	}
	if path, ok := os.LookupEnv(name + "_FILE"); ok && path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file for %s: %w", ref, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return "", fmt.Errorf("secret %q not found (set %s or %s_FILE)", ref, name, name)
}

// Load reads the layered configuration. file may be empty, in which case
// only defaults and environment overrides apply.
func Load(file string) (*Config, error) {
	return load(file, EnvSecretResolver)
}

func load(file string, secrets SecretResolver) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	v.SetEnvPrefix("DEVLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := finalize(cfg, secrets); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("audit.queue_capacity", 10000)
	v.SetDefault("audit.queue_overflow_policy", "drop_newest")
	v.SetDefault("audit.sink_capacity", 1024)
	v.SetDefault("audit.default_retention_days", 90)
	v.SetDefault("audit.drain_deadline", 5*time.Second)
	v.SetDefault("audit.publish_timeout", 10*time.Second)
}

// finalize replaces missing fields with typed defaults and enforces
// cross-field constraints.
func finalize(cfg *Config, secrets SecretResolver) error {
	switch cfg.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("env must be dev or prod, got %q", cfg.Env)
	}

	switch audit.OverflowPolicy(cfg.Audit.QueueOverflowPolicy) {
	case audit.OverflowDropNewest, audit.OverflowDropOldest:
	case audit.OverflowBlock:
		// Reserved for internal replays; the server never ingests with it.
		return fmt.Errorf("queue_overflow_policy=block is not allowed for the server")
	default:
		return fmt.Errorf("unknown queue_overflow_policy %q", cfg.Audit.QueueOverflowPolicy)
	}

	if cfg.Audit.QueueCapacity <= 0 {
		return fmt.Errorf("audit.queue_capacity must be positive")
	}
	if cfg.Audit.DefaultRetentionDays <= 0 {
		cfg.Audit.DefaultRetentionDays = 90
	}

	for i := range cfg.Audit.Sinks {
		spec := &cfg.Audit.Sinks[i]
		if err := finalizeSink(spec, secrets); err != nil {
			return err
		}
	}

	if cfg.Env == "prod" && cfg.IngestAPIKey == "" {
		if key, err := secrets("devlens_ingest_api_key"); err == nil {
			cfg.IngestAPIKey = key
		} else {
			return fmt.Errorf("ingest_api_key must be configured when env=prod")
		}
	}
	return nil
}

func finalizeSink(spec *audit.SinkSpec, secrets SecretResolver) error {
	switch spec.Kind {
	case "syslog":
		if spec.TLS && spec.Protocol != "tcp" {
			return fmt.Errorf("sink %q: tls=true requires protocol=tcp", spec.Name)
		}
		if spec.Facility < 0 || spec.Facility > 7 {
			return fmt.Errorf("sink %q: facility must be 0-7 (LOCAL0..LOCAL7)", spec.Name)
		}
	case "http":
		if spec.SigningSecretRef != "" {
			secret, err := secrets(spec.SigningSecretRef)
			if err != nil {
				return fmt.Errorf("sink %q: %w", spec.Name, err)
			}
			spec.SigningSecret = secret
		}
	}
	if spec.Filter.MinSeverity != "" && !spec.Filter.MinSeverity.Valid() {
		return fmt.Errorf("sink %q: unknown min_severity %q", spec.Name, spec.Filter.MinSeverity)
	}
	for _, kind := range spec.Filter.ActorKinds {
		if !kind.Valid() {
			return fmt.Errorf("sink %q: unknown actor kind %q in filter", spec.Name, kind)
		}
	}
	for _, et := range spec.Filter.EventTypes {
		if !et.Valid() {
			return fmt.Errorf("sink %q: unknown event type %q in filter", spec.Name, et)
		}
	}
	if !spec.Filter.IncludeAnonymous && len(spec.Filter.ActorKinds) == 0 &&
		len(spec.Filter.EventTypes) == 0 && spec.Filter.MinSeverity == "" {
		// An entirely empty filter block means "accept all", including
		// anonymous actors.
		spec.Filter.IncludeAnonymous = true
	}
	return nil
}

// ServiceConfig converts the audit section into the pipeline's tunables.
func (c *Config) ServiceConfig() audit.ServiceConfig {
	return audit.ServiceConfig{
		QueueCapacity:  c.Audit.QueueCapacity,
		OverflowPolicy: audit.OverflowPolicy(c.Audit.QueueOverflowPolicy),
		SinkCapacity:   c.Audit.SinkCapacity,
		DrainDeadline:  c.Audit.DrainDeadline,
		PublishTimeout: c.Audit.PublishTimeout,
	}
}
