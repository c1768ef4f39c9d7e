package audit

import (
	"fmt"

	"github.com/rs/zerolog"
)

// SinkSpec is the configuration shape of one sink entry. Kind selects the
// variant; the remaining fields are kind-specific and ignored elsewhere.
type SinkSpec struct {
	Kind     string `mapstructure:"kind"`
	Name     string `mapstructure:"name"`
	Capacity int    `mapstructure:"capacity"`
	Filter   Filter `mapstructure:"filter"`

	// file + sqlite
	Path string `mapstructure:"path"`

	// sqlite
	RetentionDays int `mapstructure:"retention_days"`

	// file rotation
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`

	// syslog
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Protocol     string `mapstructure:"protocol"`
	TLS          bool   `mapstructure:"tls"`
	Facility     int    `mapstructure:"facility"`
	EnterpriseID int    `mapstructure:"enterprise_id"`

	// http
	URL              string `mapstructure:"url"`
	SigningSecretRef string `mapstructure:"signing_secret_ref"`
	// SigningSecret is filled in by config finalization from the secret
	// store; it never appears in serialized configuration.
	SigningSecret string `mapstructure:"-" json:"-"`

	// json_stream
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
}

// capacitySink overrides the per-sink channel capacity for one sink.
type capacitySink struct {
	Sink
	capacity int
}

func (c capacitySink) ChannelCapacity() int { return c.capacity }

// BuildSinks constructs the configured sink variants. The set of kinds is
// closed at build time; an unknown kind, a duplicate name or two sinks
// sharing a file path are construction-time errors.
func BuildSinks(specs []SinkSpec, defaultRetentionDays int, logger zerolog.Logger) ([]Sink, error) {
	names := make(map[string]struct{}, len(specs))
	paths := make(map[string]string, len(specs))
	sinks := make([]Sink, 0, len(specs))

	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("audit: sink %d has no name", i)
		}
		if _, dup := names[spec.Name]; dup {
			return nil, fmt.Errorf("audit: duplicate sink name %q", spec.Name)
		}
		names[spec.Name] = struct{}{}

		if spec.Path != "" {
			if owner, taken := paths[spec.Path]; taken {
				return nil, fmt.Errorf("audit: sinks %q and %q share path %s", owner, spec.Name, spec.Path)
			}
			paths[spec.Path] = spec.Name
		}

		sink, err := buildSink(spec, defaultRetentionDays, logger)
		if err != nil {
			return nil, err
		}
		if spec.Capacity > 0 {
			sink = capacitySink{Sink: sink, capacity: spec.Capacity}
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func buildSink(spec SinkSpec, defaultRetentionDays int, logger zerolog.Logger) (Sink, error) {
	switch spec.Kind {
	case "tracing":
		return NewTracingSink(spec.Name, spec.Filter, logger), nil

	case "sqlite":
		if spec.Path == "" {
			return nil, fmt.Errorf("audit: sqlite sink %q requires path", spec.Name)
		}
		retention := spec.RetentionDays
		if retention == 0 {
			retention = defaultRetentionDays
		}
		return NewSQLiteSink(spec.Name, spec.Filter, spec.Path, retention, logger)

	case "file":
		if spec.Path == "" {
			return nil, fmt.Errorf("audit: file sink %q requires path", spec.Name)
		}
		rotation := FileRotation{
			MaxSizeMB:  spec.MaxSizeMB,
			MaxAgeDays: spec.MaxAgeDays,
			MaxBackups: spec.MaxBackups,
			Compress:   spec.Compress,
		}
		return NewFileSink(spec.Name, spec.Filter, spec.Path, rotation), nil

	case "syslog":
		if spec.Host == "" || spec.Port == 0 {
			return nil, fmt.Errorf("audit: syslog sink %q requires host and port", spec.Name)
		}
		return NewSyslogSink(spec.Name, spec.Filter, SyslogOptions{
			Host:         spec.Host,
			Port:         spec.Port,
			Protocol:     SyslogProtocol(spec.Protocol),
			TLS:          spec.TLS,
			Facility:     spec.Facility,
			EnterpriseID: spec.EnterpriseID,
		})

	case "http":
		if spec.URL == "" {
			return nil, fmt.Errorf("audit: http sink %q requires url", spec.Name)
		}
		return NewHTTPSink(spec.Name, spec.Filter, spec.URL, spec.SigningSecret), nil

	case "json_stream":
		if spec.Address == "" {
			return nil, fmt.Errorf("audit: json_stream sink %q requires address", spec.Name)
		}
		network := StreamNetwork(spec.Network)
		if network == "" {
			network = StreamTCP
		}
		return NewJSONStreamSink(spec.Name, spec.Filter, network, spec.Address)

	default:
		return nil, fmt.Errorf("audit: unknown sink kind %q for sink %q", spec.Kind, spec.Name)
	}
}
