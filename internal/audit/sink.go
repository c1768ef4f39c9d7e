package audit

import "context"

// Sink is one destination for redacted events. Each sink owns its filter;
// the dispatcher consults it before handing the event to the sink's worker.
// Publish is called from a single worker goroutine per sink, strictly in
// dispatch order, and must respect ctx for per-attempt timeouts.
type Sink interface {
	// Name uniquely identifies the sink in logs, metrics and counters.
	Name() string

	// Filter returns the sink's predicate. The returned pointer must be
	// stable for the life of the sink.
	Filter() *Filter

	// Publish delivers one event. Return a *SinkError to classify the
	// failure; unclassified errors are treated as transient.
	Publish(ctx context.Context, event *EnrichedEvent) error

	// HealthCheck probes the destination while the sink is unhealthy.
	HealthCheck(ctx context.Context) error

	// Close releases the sink's resources after its worker has drained.
	Close() error
}

// BaseSink provides the optional Sink methods with their defaults.
// Concrete sinks embed it and override what they need.
type BaseSink struct{}

func (BaseSink) HealthCheck(context.Context) error { return nil }
func (BaseSink) Close() error                      { return nil }
