package audit

import (
	"context"
	"sync/atomic"
	"time"
)

// sinkWorker owns one sink: its inbound channel, its retry loop, its
// failure accounting and its health gate. Exactly one goroutine runs
// deliver, so publishes reach the sink strictly in dispatch order.
type sinkWorker struct {
	svc  *Service
	sink Sink
	ch   chan *EnrichedEvent
	done chan struct{}

	published         atomic.Uint64
	transientFailures atomic.Uint64
	permanentFailures atomic.Uint64
	droppedFull       atomic.Uint64
	dropShutdown      atomic.Uint64

	consecutive atomic.Int64
	unhealthy   atomic.Bool
}

func newSinkWorker(svc *Service, sink Sink, capacity int) *sinkWorker {
	return &sinkWorker{
		svc:  svc,
		sink: sink,
		ch:   make(chan *EnrichedEvent, capacity),
		done: make(chan struct{}),
	}
}

func (w *sinkWorker) run() {
	defer w.svc.workersDone.Done()
	defer close(w.done)
	for event := range w.ch {
		drain := w.svc.drainContext()
		if drain.Err() != nil {
			// Past the drain deadline: account and discard.
			w.dropShutdown.Add(1)
			continue
		}
		w.deliver(event)
	}
}

// deliver publishes one event with the retry envelope: exponential backoff
// for transient errors up to MaxRetries, then the event counts as a
// permanent failure. Permanent errors are never retried.
func (w *sinkWorker) deliver(event *EnrichedEvent) {
	bo := w.svc.cfg.Retry.backOff()
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(w.svc.drainContext(), w.svc.cfg.PublishTimeout)
		err := w.sink.Publish(ctx, event)
		cancel()

		if err == nil {
			w.published.Add(1)
			w.markHealthy()
			return
		}

		if IsPermanent(err) {
			w.permanentFailures.Add(1)
			w.svc.logger.Warn().
				Err(err).
				Str("sink", w.sink.Name()).
				Str("event_id", event.Base.ID).
				Msg("permanent publish failure, event dropped")
			return
		}

		w.transientFailures.Add(1)
		w.noteTransient()

		if attempt >= w.svc.cfg.Retry.MaxRetries {
			w.permanentFailures.Add(1)
			w.svc.logger.Warn().
				Err(err).
				Str("sink", w.sink.Name()).
				Str("event_id", event.Base.ID).
				Int("attempts", attempt+1).
				Msg("retries exhausted, event dropped")
			return
		}

		select {
		case <-time.After(bo.NextBackOff()):
		case <-w.svc.drainContext().Done():
			// Backoff sleeps are cancellable; at the drain deadline the
			// in-flight event becomes a shutdown drop.
			w.dropShutdown.Add(1)
			return
		}
	}
}

// noteTransient advances the consecutive-failure count and trips the health
// gate at the configured threshold.
func (w *sinkWorker) noteTransient() {
	n := w.consecutive.Add(1)
	if n >= int64(w.svc.cfg.UnhealthyThreshold) && w.unhealthy.CompareAndSwap(false, true) {
		w.svc.logger.Warn().
			Str("sink", w.sink.Name()).
			Int64("consecutive_failures", n).
			Msg("sink unhealthy")
		w.svc.emitMeta(EventSinkUnhealthy, SeverityWarning, w.sink.Name())
	}
}

// markHealthy resets the gate after a successful publish or health probe.
func (w *sinkWorker) markHealthy() {
	w.consecutive.Store(0)
	if w.unhealthy.CompareAndSwap(true, false) {
		w.svc.logger.Info().
			Str("sink", w.sink.Name()).
			Msg("sink recovered")
		w.svc.emitMeta(EventSinkRecovered, SeverityNotice, w.sink.Name())
	}
}

// healthLoop probes the sink while it is unhealthy. The probe runs beside
// the delivery loop so a wedged destination is noticed even when no events
// are flowing.
func (w *sinkWorker) healthLoop() {
	defer w.svc.workersDone.Done()
	ticker := time.NewTicker(w.svc.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if !w.unhealthy.Load() {
				continue
			}
			ctx, cancel := context.WithTimeout(w.svc.drainContext(), w.svc.cfg.HealthTimeout)
			err := w.sink.HealthCheck(ctx)
			cancel()
			if err == nil {
				w.markHealthy()
			}
		}
	}
}

func (w *sinkWorker) stats() SinkStats {
	return SinkStats{
		Name:              w.sink.Name(),
		Published:         w.published.Load(),
		TransientFailures: w.transientFailures.Load(),
		PermanentFailures: w.permanentFailures.Load(),
		DroppedFull:       w.droppedFull.Load(),
		DropShutdown:      w.dropShutdown.Load(),
		Depth:             len(w.ch),
		Healthy:           !w.unhealthy.Load(),
	}
}
