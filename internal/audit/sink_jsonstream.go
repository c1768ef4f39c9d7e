package audit

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// StreamNetwork selects the JSON stream transport.
type StreamNetwork string

const (
	StreamTCP  StreamNetwork = "tcp"
	StreamUnix StreamNetwork = "unix"
)

// JSONStreamSink writes line-delimited JSON records over TCP or a Unix
// domain socket to a co-located collector. Framing is one record per line;
// the collector never replies.
type JSONStreamSink struct {
	BaseSink
	name    string
	filter  Filter
	network StreamNetwork
	address string

	mu   sync.Mutex
	conn net.Conn
}

// NewJSONStreamSink builds the stream sink. The connection is established
// lazily so a collector that starts later does not fail construction.
func NewJSONStreamSink(name string, filter Filter, network StreamNetwork, address string) (*JSONStreamSink, error) {
	switch network {
	case StreamTCP, StreamUnix:
	default:
		return nil, fmt.Errorf("json stream sink %q: unsupported network %q", name, network)
	}
	return &JSONStreamSink{
		name:    name,
		filter:  filter,
		network: network,
		address: address,
	}, nil
}

func (s *JSONStreamSink) Name() string    { return s.name }
func (s *JSONStreamSink) Filter() *Filter { return &s.filter }

func (s *JSONStreamSink) Publish(ctx context.Context, event *EnrichedEvent) error {
	line, err := NewRecord(event).MarshalLine()
	if err != nil {
		return PermanentErr("encode record", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, string(s.network), s.address)
		if err != nil {
			return Transient("stream dial", err)
		}
		s.conn = conn
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if _, err := s.conn.Write(line); err != nil {
		s.conn.Close()
		s.conn = nil
		return Transient("stream write", err)
	}
	return nil
}

func (s *JSONStreamSink) HealthCheck(ctx context.Context) error {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, string(s.network), s.address)
	if err != nil {
		return Transient("stream dial", err)
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *JSONStreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
