package audit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecord_MarshalLine(t *testing.T) {
	event := mustEvent(t, NewEvent(EventImpersonationStart).
		WithActor(Actor{Kind: ActorUser, UserID: "U-1"}).
		WithTarget(Target{Kind: "user", ID: "U-2", DisplayName: "target user"}).
		WithOccurredAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)).
		WithAttr("reason", "support ticket 4711"))
	enriched := &EnrichedEvent{
		Base:    event,
		Session: &SessionContext{SessionID: "S-1"},
		Org:     &OrgContext{OrgID: "O-1", OrgRole: "admin"},
	}

	line, err := NewRecord(enriched).MarshalLine()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.HasSuffix(line, []byte("\n")) {
		t.Error("line not newline-terminated")
	}
	if bytes.Count(line, []byte("\n")) != 1 {
		t.Error("embedded newline inside record")
	}

	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["id"] != event.ID {
		t.Errorf("id = %v", decoded["id"])
	}
	if decoded["occurred_at"] != "2025-06-01T12:00:00Z" {
		t.Errorf("occurred_at = %v", decoded["occurred_at"])
	}
	if decoded["event_type"] != "impersonation.start" {
		t.Errorf("event_type = %v", decoded["event_type"])
	}
	session, ok := decoded["session"].(map[string]any)
	if !ok || session["session_id"] != "S-1" {
		t.Errorf("session = %v", decoded["session"])
	}
	org, ok := decoded["org"].(map[string]any)
	if !ok || org["org_role"] != "admin" {
		t.Errorf("org = %v", decoded["org"])
	}
}

func TestRecord_EmptyAttributesSerializeAsObject(t *testing.T) {
	event := mustEvent(t, NewEvent(EventExport))
	line, err := NewRecord(&EnrichedEvent{Base: event}).MarshalLine()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(line), `"attributes":{}`) {
		t.Errorf("attributes missing or null: %s", line)
	}
	if strings.Contains(string(line), `"session"`) {
		t.Error("absent session serialized")
	}
}

func TestRecord_NoHTMLEscaping(t *testing.T) {
	event := mustEvent(t, NewEvent(EventShare).WithAttr("url", "https://example.com/a?b=1&c=2"))
	line, err := NewRecord(&EnrichedEvent{Base: event}).MarshalLine()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(line), "b=1&c=2") {
		t.Errorf("ampersand escaped: %s", line)
	}
}
