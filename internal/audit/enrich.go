package audit

import "context"

// Enricher joins session and organization context onto a base event.
// Implementations must be best-effort: a failed lookup yields missing
// context, never an error, and must not panic. The pipeline sequences
// enrichment before redaction so joined strings are scrubbed too.
type Enricher interface {
	Enrich(ctx context.Context, event Event) EnrichedEvent
}

// NoopEnricher returns the base event with no context attached. It is the
// default when no production enricher is injected.
type NoopEnricher struct{}

func (NoopEnricher) Enrich(_ context.Context, event Event) EnrichedEvent {
	return EnrichedEvent{Base: event}
}
