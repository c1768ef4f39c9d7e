package audit

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxAttrBytes is the default limit on the serialized size of an event's
// attribute map. Events exceeding it fail construction.
const MaxAttrBytes = 64 * 1024

// MaxClockSkew bounds how far in the future of the service clock a
// caller-supplied occurred_at may lie.
const MaxClockSkew = 5 * time.Minute

// Clock abstracts time.Now for testable event construction.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// idSource hands out ULIDs that sort by construction time. The monotonic
// entropy reader guarantees strictly increasing IDs within one millisecond.
var idSource = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{entropy: ulid.Monotonic(rand.Reader, 0)}

// NewEventID returns a time-ordered unique event identifier.
func NewEventID(t time.Time) string {
	idSource.Lock()
	defer idSource.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), idSource.entropy).String()
}

// Builder constructs events field by field. Start from NewEvent.
//
// Usage:
//
//	event, err := audit.NewEvent(audit.EventAdminUpdate).
//		WithActor(audit.Actor{Kind: audit.ActorUser, UserID: "U-1"}).
//		WithTarget(audit.Target{Kind: "project", ID: "P-7"}).
//		WithSeverity(audit.SeverityNotice).
//		WithAttr("field", "retention_days").
//		Build()
type Builder struct {
	event        Event
	clock        Clock
	maxAttrBytes int
}

// NewEvent starts a builder for the given event type. Severity defaults to
// info and outcome to success; timestamps default to the clock at Build.
func NewEvent(t EventType) *Builder {
	return &Builder{
		event: Event{
			Type:     t,
			Severity: SeverityInfo,
			Outcome:  OutcomeSuccess,
		},
		clock:        SystemClock{},
		maxAttrBytes: MaxAttrBytes,
	}
}

// WithClock overrides the clock used for the default timestamp and ID.
func (b *Builder) WithClock(c Clock) *Builder {
	if c != nil {
		b.clock = c
	}
	return b
}

// WithSeverity sets the event severity.
func (b *Builder) WithSeverity(s Severity) *Builder {
	b.event.Severity = s
	return b
}

// WithOutcome sets the event outcome.
func (b *Builder) WithOutcome(o Outcome) *Builder {
	b.event.Outcome = o
	return b
}

// WithActor sets the acting principal.
func (b *Builder) WithActor(a Actor) *Builder {
	b.event.Actor = &a
	return b
}

// WithTarget sets the object acted upon.
func (b *Builder) WithTarget(t Target) *Builder {
	b.event.Target = &t
	return b
}

// WithOccurredAt overrides the event timestamp. The zero time means "use
// the clock at Build".
func (b *Builder) WithOccurredAt(t time.Time) *Builder {
	b.event.OccurredAt = t
	return b
}

// WithSource records the request origin.
func (b *Builder) WithSource(ip, userAgent string) *Builder {
	b.event.SourceIP = ip
	b.event.UserAgent = userAgent
	return b
}

// WithRequestID attaches the request correlation ID.
func (b *Builder) WithRequestID(id string) *Builder {
	b.event.RequestID = id
	return b
}

// WithTraceID attaches the distributed trace ID.
func (b *Builder) WithTraceID(id string) *Builder {
	b.event.TraceID = id
	return b
}

// WithMessage sets the short human-readable summary. Structured meaning
// belongs in attributes, not here.
func (b *Builder) WithMessage(msg string) *Builder {
	b.event.Message = msg
	return b
}

// WithAttr adds one attribute. Values must be JSON-serializable.
func (b *Builder) WithAttr(key string, value any) *Builder {
	if b.event.Attributes == nil {
		b.event.Attributes = make(map[string]any)
	}
	b.event.Attributes[key] = value
	return b
}

// WithAttrs merges a full attribute map.
func (b *Builder) WithAttrs(attrs map[string]any) *Builder {
	for k, v := range attrs {
		b.WithAttr(k, v)
	}
	return b
}

// Build validates the accumulated fields and returns the frozen event.
func (b *Builder) Build() (Event, error) {
	e := b.event

	if !e.Type.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if !e.Severity.Valid() {
		return Event{}, fmt.Errorf("%w: severity %q", ErrInvalidField, e.Severity)
	}
	if !e.Outcome.Valid() {
		return Event{}, fmt.Errorf("%w: outcome %q", ErrInvalidField, e.Outcome)
	}
	if e.Actor != nil {
		if !e.Actor.Kind.Valid() {
			return Event{}, fmt.Errorf("%w: actor kind %q", ErrInvalidField, e.Actor.Kind)
		}
		if e.Actor.APIKeyID != "" && e.Actor.Kind != ActorAPIKey {
			return Event{}, fmt.Errorf("%w: api_key_id set with actor kind %q", ErrInvalidField, e.Actor.Kind)
		}
	}
	if e.Attributes != nil {
		raw, err := json.Marshal(e.Attributes)
		if err != nil {
			return Event{}, fmt.Errorf("%w: attributes not serializable: %v", ErrInvalidField, err)
		}
		if len(raw) > b.maxAttrBytes {
			return Event{}, fmt.Errorf("%w: %d bytes > %d", ErrEventTooLarge, len(raw), b.maxAttrBytes)
		}
	}

	now := b.clock.Now()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	} else if e.OccurredAt.After(now.Add(MaxClockSkew)) {
		return Event{}, fmt.Errorf("%w: occurred_at %s is beyond the clock-skew bound", ErrInvalidField, e.OccurredAt.Format(time.RFC3339))
	}
	if e.ID == "" {
		e.ID = NewEventID(e.OccurredAt)
	}
	return e, nil
}
