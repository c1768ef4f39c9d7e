package audit

import (
	"context"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRotation controls when the file sink rolls its output and what
// happens to rotated segments.
type FileRotation struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// FileSink appends newline-delimited JSON records to a file, rotating when
// the file reaches MaxSizeMB and compressing rotated segments. The file is
// not rotated by age: MaxAgeDays and MaxBackups only prune rotated
// segments. The path is exclusive to one sink instance; overlap is rejected
// at construction in the factory.
type FileSink struct {
	BaseSink
	name   string
	filter Filter

	mu     sync.Mutex
	writer *lumberjack.Logger
}

// NewFileSink builds a file sink over the given path.
func NewFileSink(name string, filter Filter, path string, rotation FileRotation) *FileSink {
	if rotation.MaxSizeMB <= 0 {
		rotation.MaxSizeMB = 128
	}
	return &FileSink{
		name:   name,
		filter: filter,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    rotation.MaxSizeMB,
			MaxAge:     rotation.MaxAgeDays,
			MaxBackups: rotation.MaxBackups,
			Compress:   rotation.Compress,
		},
	}
}

func (s *FileSink) Name() string    { return s.name }
func (s *FileSink) Filter() *Filter { return &s.filter }

func (s *FileSink) Publish(_ context.Context, event *EnrichedEvent) error {
	line, err := NewRecord(event).MarshalLine()
	if err != nil {
		return PermanentErr("encode record", err)
	}
	s.mu.Lock()
	_, err = s.writer.Write(line)
	s.mu.Unlock()
	if err != nil {
		// Covers disk-full: retriable once space is reclaimed.
		return Transient("append audit record", err)
	}
	return nil
}

// HealthCheck performs a zero-length write, which forces lumberjack to
// open the target file if it is not already open.
func (s *FileSink) HealthCheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(nil); err != nil {
		return Transient("file probe", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
