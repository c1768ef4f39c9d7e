package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id              TEXT PRIMARY KEY,
	occurred_at     TEXT NOT NULL,
	received_at     TEXT NOT NULL,
	severity        TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	actor_kind      TEXT,
	actor_user_id   TEXT,
	actor_api_key_id TEXT,
	target_kind     TEXT,
	target_id       TEXT,
	outcome         TEXT NOT NULL,
	source_ip       TEXT,
	user_agent      TEXT,
	request_id      TEXT,
	trace_id        TEXT,
	attributes_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type_time
	ON audit_events (event_type, occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_events_actor_time
	ON audit_events (actor_user_id, occurred_at);
`

const sqliteInsert = `
INSERT INTO audit_events (
	id, occurred_at, received_at, severity, event_type,
	actor_kind, actor_user_id, actor_api_key_id,
	target_kind, target_id, outcome,
	source_ip, user_agent, request_id, trace_id, attributes_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteSink persists events into a local SQLite database. It owns an
// exclusive single-connection writer with WAL journaling; no other
// component may write the file. A duplicate primary key means the event is
// already persisted and is treated as permanent.
type SQLiteSink struct {
	BaseSink
	name          string
	filter        Filter
	db            *sql.DB
	clock         Clock
	retentionDays int
	logger        zerolog.Logger
	sweepStop     chan struct{}
	sweepDone     chan struct{}
}

// NewSQLiteSink opens (creating if needed) the database at path and
// prepares the events table.
func NewSQLiteSink(name string, filter Filter, path string, retentionDays int, logger zerolog.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer connection: serializes writes and keeps WAL simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL on %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema on %s: %w", path, err)
	}

	s := &SQLiteSink{
		name:          name,
		filter:        filter,
		db:            db,
		clock:         SystemClock{},
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "audit.sqlite").Str("sink", name).Logger(),
		sweepStop:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	go s.retentionLoop()
	return s, nil
}

func (s *SQLiteSink) Name() string    { return s.name }
func (s *SQLiteSink) Filter() *Filter { return &s.filter }

func (s *SQLiteSink) Publish(ctx context.Context, event *EnrichedEvent) error {
	base := &event.Base

	attrs := base.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return PermanentErr("marshal attributes", err)
	}

	var actorKind, actorUserID, actorAPIKeyID string
	if base.Actor != nil {
		actorKind = string(base.Actor.Kind)
		actorUserID = base.Actor.UserID
		actorAPIKeyID = base.Actor.APIKeyID
	}
	var targetKind, targetID string
	if base.Target != nil {
		targetKind = base.Target.Kind
		targetID = base.Target.ID
	}

	_, err = s.db.ExecContext(ctx, sqliteInsert,
		base.ID,
		base.OccurredAt.UTC().Format(time.RFC3339Nano),
		s.clock.Now().UTC().Format(time.RFC3339Nano),
		string(base.Severity),
		string(base.Type),
		actorKind,
		actorUserID,
		actorAPIKeyID,
		targetKind,
		targetID,
		string(base.Outcome),
		base.SourceIP,
		base.UserAgent,
		base.RequestID,
		base.TraceID,
		string(attrsJSON),
	)
	if err != nil {
		if isConstraintViolation(err) {
			// Already persisted; at-least-once delivery makes this normal
			// after a restart mid-batch.
			return PermanentErr("duplicate event id", err)
		}
		return Transient("insert audit event", err)
	}
	return nil
}

// isConstraintViolation matches the driver's primary-key error without
// importing driver internals.
func isConstraintViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}

func (s *SQLiteSink) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return Transient("sqlite ping", err)
	}
	return nil
}

// retentionLoop deletes rows older than the configured horizon once an
// hour. It shares the writer connection, so sweeps serialize with inserts.
func (s *SQLiteSink) retentionLoop() {
	defer close(s.sweepDone)
	if s.retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *SQLiteSink) sweep() {
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -s.retentionDays).Format(time.RFC3339Nano)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE occurred_at < ?", cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("retention sweep failed")
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info().Int64("deleted", n).Str("cutoff", cutoff).Msg("retention sweep")
	}
}

func (s *SQLiteSink) Close() error {
	close(s.sweepStop)
	<-s.sweepDone
	return s.db.Close()
}
