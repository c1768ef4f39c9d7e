package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// SyslogProtocol selects the syslog transport.
type SyslogProtocol string

const (
	SyslogUDP SyslogProtocol = "udp"
	SyslogTCP SyslogProtocol = "tcp"
)

// SyslogOptions configures the syslog sink.
type SyslogOptions struct {
	Host     string
	Port     int
	Protocol SyslogProtocol
	// TLS wraps the TCP connection; rejected with UDP at config time.
	TLS       bool
	TLSConfig *tls.Config
	// Facility is the LOCAL facility index 0-7 (LOCAL0..LOCAL7).
	Facility int
	// EnterpriseID qualifies the audit structured-data element.
	EnterpriseID int
	// AppName fills the RFC 5424 APP-NAME field.
	AppName string
}

// syslogSeverity maps audit severities onto syslog numerical severities.
func syslogSeverity(s Severity) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityError:
		return 3
	case SeverityWarning:
		return 4
	case SeverityNotice:
		return 5
	default:
		return 6
	}
}

// SyslogSink emits RFC 5424 frames. The UDP variant is fire-and-forget:
// send errors are permanent because retrying a datagram buys nothing. The
// TCP variant keeps a persistent connection, reconnects on failure, and
// frames messages with octet counting.
type SyslogSink struct {
	BaseSink
	name     string
	filter   Filter
	opts     SyslogOptions
	hostname string

	mu   sync.Mutex
	conn net.Conn
}

// NewSyslogSink builds a syslog sink. The connection is established lazily
// on first publish so a down collector does not block startup.
func NewSyslogSink(name string, filter Filter, opts SyslogOptions) (*SyslogSink, error) {
	if opts.Protocol == "" {
		opts.Protocol = SyslogUDP
	}
	if opts.TLS && opts.Protocol != SyslogTCP {
		return nil, fmt.Errorf("syslog sink %q: tls requires protocol=tcp", name)
	}
	if opts.Facility < 0 || opts.Facility > 7 {
		return nil, fmt.Errorf("syslog sink %q: facility %d outside 0-7", name, opts.Facility)
	}
	if opts.AppName == "" {
		opts.AppName = "devlens-audit"
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "-"
	}
	return &SyslogSink{
		name:     name,
		filter:   filter,
		opts:     opts,
		hostname: hostname,
	}, nil
}

func (s *SyslogSink) Name() string    { return s.name }
func (s *SyslogSink) Filter() *Filter { return &s.filter }

// sdEscape escapes the characters RFC 5424 reserves inside SD-PARAM values.
func sdEscape(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `]`, `\]`)
	return r.Replace(v)
}

// frame renders one RFC 5424 message (without transport framing).
func (s *SyslogSink) frame(event *EnrichedEvent) ([]byte, error) {
	base := &event.Base
	pri := (16+s.opts.Facility)*8 + syslogSeverity(base.Severity)
	ts := base.OccurredAt.UTC().Format(time.RFC3339Nano)

	sd := fmt.Sprintf("[audit@%d event_type=\"%s\" outcome=\"%s\"]",
		s.opts.EnterpriseID, sdEscape(string(base.Type)), sdEscape(string(base.Outcome)))

	line, err := NewRecord(event).MarshalLine()
	if err != nil {
		return nil, err
	}
	msg := strings.TrimSuffix(string(line), "\n")

	header := fmt.Sprintf("<%d>1 %s %s %s %d %s %s %s",
		pri, ts, s.hostname, s.opts.AppName, os.Getpid(), base.ID, sd, msg)
	return []byte(header), nil
}

func (s *SyslogSink) addr() string {
	return net.JoinHostPort(s.opts.Host, fmt.Sprintf("%d", s.opts.Port))
}

func (s *SyslogSink) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{}
	if s.opts.Protocol == SyslogUDP {
		return d.DialContext(ctx, "udp", s.addr())
	}
	if s.opts.TLS {
		td := tls.Dialer{NetDialer: &d, Config: s.opts.TLSConfig}
		return td.DialContext(ctx, "tcp", s.addr())
	}
	return d.DialContext(ctx, "tcp", s.addr())
}

func (s *SyslogSink) Publish(ctx context.Context, event *EnrichedEvent) error {
	frame, err := s.frame(event)
	if err != nil {
		return PermanentErr("render syslog frame", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := s.dial(ctx)
		if err != nil {
			if s.opts.Protocol == SyslogUDP {
				return PermanentErr("syslog udp dial", err)
			}
			return Transient("syslog dial", err)
		}
		s.conn = conn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}

	var payload []byte
	if s.opts.Protocol == SyslogTCP {
		// Octet-counted framing: MSG-LEN SP SYSLOG-MSG.
		payload = []byte(fmt.Sprintf("%d %s", len(frame), frame))
	} else {
		payload = frame
	}

	if _, err := s.conn.Write(payload); err != nil {
		s.conn.Close()
		s.conn = nil
		if s.opts.Protocol == SyslogUDP {
			return PermanentErr("syslog udp send", err)
		}
		return Transient("syslog write", err)
	}
	return nil
}

// HealthCheck re-dials the collector; success replaces any broken
// connection.
func (s *SyslogSink) HealthCheck(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return Transient("syslog dial", err)
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *SyslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
