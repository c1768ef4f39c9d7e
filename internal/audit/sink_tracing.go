package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// TracingSink mirrors events into the structured log at a level derived
// from severity. It never retries: any failure is permanent by contract, so
// a broken log destination can never stall the pipeline.
type TracingSink struct {
	BaseSink
	name   string
	filter Filter
	logger zerolog.Logger
}

// NewTracingSink builds the dev/ops log mirror.
func NewTracingSink(name string, filter Filter, logger zerolog.Logger) *TracingSink {
	return &TracingSink{
		name:   name,
		filter: filter,
		logger: logger.With().Str("component", "audit.tracing").Logger(),
	}
}

func (s *TracingSink) Name() string    { return s.name }
func (s *TracingSink) Filter() *Filter { return &s.filter }

func severityLevel(sev Severity) zerolog.Level {
	switch sev {
	case SeverityCritical, SeverityError:
		return zerolog.ErrorLevel
	case SeverityWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func (s *TracingSink) Publish(_ context.Context, event *EnrichedEvent) error {
	base := &event.Base
	entry := s.logger.WithLevel(severityLevel(base.Severity)).
		Str("event_id", base.ID).
		Str("event_type", string(base.Type)).
		Str("severity", string(base.Severity)).
		Str("outcome", string(base.Outcome)).
		Time("occurred_at", base.OccurredAt)

	if base.Actor != nil {
		entry = entry.Str("actor_kind", string(base.Actor.Kind))
		if base.Actor.UserID != "" {
			entry = entry.Str("actor_user_id", base.Actor.UserID)
		}
		if base.Actor.APIKeyID != "" {
			entry = entry.Str("actor_api_key_id", base.Actor.APIKeyID)
		}
	}
	if base.Target != nil {
		entry = entry.Str("target_kind", base.Target.Kind).Str("target_id", base.Target.ID)
	}
	if base.RequestID != "" {
		entry = entry.Str("request_id", base.RequestID)
	}
	if base.TraceID != "" {
		entry = entry.Str("trace_id", base.TraceID)
	}
	if len(base.Attributes) > 0 {
		entry = entry.Interface("attributes", base.Attributes)
	}
	if event.Session != nil {
		entry = entry.Interface("session", event.Session)
	}
	if event.Org != nil {
		entry = entry.Interface("org", event.Org)
	}
	entry.Msg(base.Message)
	return nil
}
