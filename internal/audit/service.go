package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// OverflowPolicy selects the behavior of the main queue when it is full.
type OverflowPolicy string

const (
	// OverflowBlock makes Submit wait for a slot. Reserved for internal
	// replays; request handlers must never use it.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropNewest rejects the incoming event.
	OverflowDropNewest OverflowPolicy = "drop_newest"
	// OverflowDropOldest evicts the head of the queue to admit the
	// incoming event.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// ServiceConfig carries the pipeline tunables. Zero fields are replaced by
// the documented defaults in NewService.
type ServiceConfig struct {
	QueueCapacity      int
	OverflowPolicy     OverflowPolicy
	SinkCapacity       int
	DrainDeadline      time.Duration
	PublishTimeout     time.Duration
	HealthInterval     time.Duration
	HealthTimeout      time.Duration
	UnhealthyThreshold int
	Retry              RetryConfig
}

func (c *ServiceConfig) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10000
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = OverflowDropNewest
	}
	if c.SinkCapacity <= 0 {
		c.SinkCapacity = 1024
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 15 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.Retry == (RetryConfig{}) {
		c.Retry = DefaultRetryConfig()
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 10
	}
}

// SinkStats is a point-in-time snapshot of one sink worker's accounting.
type SinkStats struct {
	Name              string `json:"name"`
	Published         uint64 `json:"published"`
	TransientFailures uint64 `json:"transient_failures"`
	PermanentFailures uint64 `json:"permanent_failures"`
	DroppedFull       uint64 `json:"dropped_full"`
	DropShutdown      uint64 `json:"drop_shutdown"`
	Depth             int    `json:"depth"`
	Healthy           bool   `json:"healthy"`
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Accepted      uint64      `json:"accepted"`
	DroppedNewest uint64      `json:"dropped_newest"`
	DroppedOldest uint64      `json:"dropped_oldest"`
	Sinks         []SinkStats `json:"sinks"`
}

// Service is the audit pipeline: a bounded ingress queue, one dispatcher
// goroutine running enrich -> redact -> filter, and one worker goroutine
// per sink. Submit never blocks under the production overflow policies.
type Service struct {
	cfg      ServiceConfig
	enricher Enricher
	redactor *Redactor
	logger   zerolog.Logger

	queue  chan Event
	stopCh chan struct{}

	mu          sync.RWMutex
	closed      bool
	drainCtx    context.Context
	drainCancel context.CancelFunc

	workers        []*sinkWorker
	dispatcherDone chan struct{}
	workersDone    sync.WaitGroup
	started        atomic.Bool
	closeSinks     sync.Once

	accepted      atomic.Uint64
	droppedNewest atomic.Uint64
	droppedOldest atomic.Uint64
}

// NewService assembles a pipeline over the given sinks. The enricher may be
// nil (NoopEnricher is used) and the redactor may be nil (default rules).
// Duplicate sink names are a construction-time error.
func NewService(cfg ServiceConfig, enricher Enricher, redactor *Redactor, logger zerolog.Logger, sinks ...Sink) (*Service, error) {
	cfg.applyDefaults()
	if enricher == nil {
		enricher = NoopEnricher{}
	}
	if redactor == nil {
		redactor = NewRedactor(nil)
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("audit: at least one sink is required")
	}

	s := &Service{
		cfg:            cfg,
		enricher:       enricher,
		redactor:       redactor,
		logger:         logger.With().Str("component", "audit").Logger(),
		queue:          make(chan Event, cfg.QueueCapacity),
		stopCh:         make(chan struct{}),
		drainCtx:       context.Background(),
		dispatcherDone: make(chan struct{}),
	}

	seen := make(map[string]struct{}, len(sinks))
	for _, sink := range sinks {
		if _, dup := seen[sink.Name()]; dup {
			return nil, fmt.Errorf("audit: duplicate sink name %q", sink.Name())
		}
		seen[sink.Name()] = struct{}{}
		sink.Filter().Compile()
		capacity := cfg.SinkCapacity
		if c, ok := sink.(interface{ ChannelCapacity() int }); ok && c.ChannelCapacity() > 0 {
			capacity = c.ChannelCapacity()
		}
		s.workers = append(s.workers, newSinkWorker(s, sink, capacity))
	}
	return s, nil
}

// Start spawns the dispatcher and the sink workers. It may be called once.
func (s *Service) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range s.workers {
		s.workersDone.Add(2)
		go w.run()
		go w.healthLoop()
	}
	go s.dispatch()
	s.logger.Info().
		Int("queue_capacity", s.cfg.QueueCapacity).
		Str("overflow_policy", string(s.cfg.OverflowPolicy)).
		Int("sinks", len(s.workers)).
		Msg("audit pipeline started")
}

// Submit hands one event to the pipeline and returns synchronously. Under
// drop_newest a full queue rejects the event; under drop_oldest the head of
// the queue is evicted to make room. Rejections are counted, never silent.
func (s *Service) Submit(event Event) SubmitOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return RejectedShutdown
	}

	switch s.cfg.OverflowPolicy {
	case OverflowBlock:
		s.queue <- event
		s.accepted.Add(1)
		return Accepted
	case OverflowDropOldest:
		for {
			select {
			case s.queue <- event:
				s.accepted.Add(1)
				return Accepted
			default:
			}
			select {
			case <-s.queue:
				s.droppedOldest.Add(1)
			default:
			}
		}
	default: // drop_newest
		select {
		case s.queue <- event:
			s.accepted.Add(1)
			return Accepted
		default:
			s.droppedNewest.Add(1)
			return RejectedQueueFull
		}
	}
}

// dispatch is the single pipeline worker: it pulls events off the main
// queue, enriches and redacts them, and fans the shared result out to each
// accepting sink's channel without ever blocking on a slow sink.
func (s *Service) dispatch() {
	defer close(s.dispatcherDone)
	for {
		select {
		case event := <-s.queue:
			s.process(event)
		case <-s.stopCh:
			// Drain whatever was admitted before shutdown closed ingress.
			for {
				select {
				case event := <-s.queue:
					s.process(event)
				default:
					for _, w := range s.workers {
						close(w.ch)
					}
					return
				}
			}
		}
	}
}

func (s *Service) process(event Event) {
	enriched := s.enricher.Enrich(s.drainContext(), event)
	redacted := s.redactor.Redact(enriched)

	shared := &redacted
	for _, w := range s.workers {
		if !w.sink.Filter().Accepts(shared) {
			continue
		}
		select {
		case w.ch <- shared:
		default:
			w.droppedFull.Add(1)
		}
	}
}

// drainContext is Background until shutdown, then a context whose deadline
// is the drain deadline. Workers derive every publish attempt and backoff
// sleep from it.
func (s *Service) drainContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drainCtx
}

// Shutdown closes ingress, drains the main queue, gives each sink worker
// the drain deadline to flush its channel, and returns once every worker
// has exited. Safe to call more than once; later calls wait like the first.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.drainCtx, s.drainCancel = context.WithTimeout(context.Background(), s.cfg.DrainDeadline)
		close(s.stopCh)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.dispatcherDone
		s.workersDone.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.mu.Lock()
		if s.drainCancel != nil {
			s.drainCancel()
		}
		s.mu.Unlock()
		s.closeSinks.Do(func() {
			for _, w := range s.workers {
				if err := w.sink.Close(); err != nil {
					s.logger.Warn().Err(err).Str("sink", w.sink.Name()).Msg("sink close failed")
				}
			}
		})
		s.logger.Info().Msg("audit pipeline stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats snapshots every pipeline counter.
func (s *Service) Stats() Stats {
	st := Stats{
		Accepted:      s.accepted.Load(),
		DroppedNewest: s.droppedNewest.Load(),
		DroppedOldest: s.droppedOldest.Load(),
	}
	for _, w := range s.workers {
		st.Sinks = append(st.Sinks, w.stats())
	}
	return st
}

// emitMeta feeds a pipeline-internal event about sink health back through
// the pipeline itself so operators see state transitions in every sink
// whose filter accepts the meta-event.
func (s *Service) emitMeta(t EventType, severity Severity, sinkName string) {
	event, err := NewEvent(t).
		WithSeverity(severity).
		WithActor(Actor{Kind: ActorService, UserID: "audit-pipeline"}).
		WithTarget(Target{Kind: "audit_sink", ID: sinkName}).
		WithAttr("meta", true).
		Build()
	if err != nil {
		return
	}
	s.Submit(event)
}
