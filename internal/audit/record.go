package audit

import (
	"bytes"
	"encoding/json"
	"time"
)

// Record is the single-line JSON wire shape shared by the file, HTTP,
// syslog and JSON-stream sinks: one UTF-8 object per event, no embedded
// newlines.
type Record struct {
	ID         string          `json:"id"`
	OccurredAt string          `json:"occurred_at"`
	Severity   Severity        `json:"severity"`
	EventType  EventType       `json:"event_type"`
	Actor      *Actor          `json:"actor,omitempty"`
	Target     *Target         `json:"target,omitempty"`
	Outcome    Outcome         `json:"outcome"`
	SourceIP   string          `json:"source_ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	TraceID    string          `json:"trace_id,omitempty"`
	Message    string          `json:"message,omitempty"`
	Attributes map[string]any  `json:"attributes"`
	Session    *SessionContext `json:"session,omitempty"`
	Org        *OrgContext     `json:"org,omitempty"`
}

// NewRecord flattens an enriched event into its wire shape.
func NewRecord(e *EnrichedEvent) Record {
	attrs := e.Base.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return Record{
		ID:         e.Base.ID,
		OccurredAt: e.Base.OccurredAt.Format(time.RFC3339Nano),
		Severity:   e.Base.Severity,
		EventType:  e.Base.Type,
		Actor:      e.Base.Actor,
		Target:     e.Base.Target,
		Outcome:    e.Base.Outcome,
		SourceIP:   e.Base.SourceIP,
		UserAgent:  e.Base.UserAgent,
		RequestID:  e.Base.RequestID,
		TraceID:    e.Base.TraceID,
		Message:    e.Base.Message,
		Attributes: attrs,
		Session:    e.Session,
		Org:        e.Org,
	}
}

// MarshalLine renders the record as one newline-terminated JSON line.
func (r Record) MarshalLine() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	// json.Encoder already appends the trailing newline.
	return buf.Bytes(), nil
}
