package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteSink(t *testing.T) *SQLiteSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink("primary", AcceptAll(), path, 0, testLogger())
	if err != nil {
		t.Fatalf("new sqlite sink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSQLiteSink_PersistsRow(t *testing.T) {
	sink := newTestSQLiteSink(t)

	event := mustEvent(t, NewEvent(EventAuthnSuccess).
		WithActor(Actor{Kind: ActorUser, UserID: "U-1"}).
		WithOccurredAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	if err := sink.Publish(context.Background(), &EnrichedEvent{Base: event}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var (
		eventType, actorUserID, attrsJSON string
	)
	row := sink.db.QueryRow(
		"SELECT event_type, actor_user_id, attributes_json FROM audit_events WHERE id = ?", event.ID)
	if err := row.Scan(&eventType, &actorUserID, &attrsJSON); err != nil {
		t.Fatalf("row not found: %v", err)
	}
	if eventType != "authn.success" {
		t.Errorf("event_type = %q", eventType)
	}
	if actorUserID != "U-1" {
		t.Errorf("actor_user_id = %q", actorUserID)
	}
	if attrsJSON != "{}" {
		t.Errorf("attributes_json = %q, want {}", attrsJSON)
	}
}

func TestSQLiteSink_DuplicateIsPermanent(t *testing.T) {
	sink := newTestSQLiteSink(t)
	event := mustEvent(t, NewEvent(EventExport))
	enriched := &EnrichedEvent{Base: event}

	if err := sink.Publish(context.Background(), enriched); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	err := sink.Publish(context.Background(), enriched)
	if err == nil {
		t.Fatal("expected duplicate-key error")
	}
	if !IsPermanent(err) {
		t.Errorf("duplicate classified transient: %v", err)
	}

	var count int
	if err := sink.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

func TestSQLiteSink_RetentionSweep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink("primary", AcceptAll(), path, 30, testLogger())
	if err != nil {
		t.Fatalf("new sqlite sink: %v", err)
	}
	defer sink.Close()

	now := time.Now().UTC()
	old := mustEvent(t, NewEvent(EventExport).WithOccurredAt(now.AddDate(0, 0, -60)))
	recent := mustEvent(t, NewEvent(EventExport).WithOccurredAt(now.AddDate(0, 0, -1)))
	for _, ev := range []Event{old, recent} {
		if err := sink.Publish(context.Background(), &EnrichedEvent{Base: ev}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	sink.sweep()

	rows, err := sink.db.Query("SELECT id FROM audit_events")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(ids) != 1 || ids[0] != recent.ID {
		t.Errorf("surviving rows = %v, want only %s", ids, recent.ID)
	}
}

func TestSQLiteSink_WALMode(t *testing.T) {
	sink := newTestSQLiteSink(t)
	var mode string
	if err := sink.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestSQLiteSink_HealthCheck(t *testing.T) {
	sink := newTestSQLiteSink(t)
	if err := sink.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}
