package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"argus/core"
	"argus/ingest"
	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// Publisher fans out accepted alerts and raw events to live subscribers.
// Implementations must not block the caller.
type Publisher interface {
	PublishAlert(alert *core.Alert)
	PublishEvent(event *core.Event)
}

// AlertNotifier delivers terminal notifications for admitted alerts.
type AlertNotifier interface {
	NotifyAlert(alert *core.Alert)
}

// Engine errors.
var (
	ErrEngineNotRunning = errors.New("engine is not running")
	ErrQueueFull        = errors.New("engine event queue is full")
)

// Options tunes the engine's concurrency.
type Options struct {
	Workers           int
	QueueSize         int
	DispatchQueueSize int
}

// Engine is the correlation pipeline: normalize, evaluate every rule,
// deduplicate firings, then hand admitted alerts to the sink, the notifier,
// and the publisher. Safe for concurrent producers.
type Engine struct {
	rules     []core.Rule
	windows   core.WindowStore
	dedup     *Deduplicator
	sink      core.AlertSink
	publisher Publisher
	notifier  AlertNotifier

	eventCh    chan *core.Event
	dispatchCh chan *core.Alert
	workers    int

	mu      sync.RWMutex
	running bool

	wg         sync.WaitGroup
	dispatchWg sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.SugaredLogger
}

// NewEngine creates an engine. sink, publisher, and notifier may be nil;
// the corresponding hand-off is skipped.
func NewEngine(parentCtx context.Context, opts Options, rules []core.Rule, windows core.WindowStore, dedup *Deduplicator, sink core.AlertSink, publisher Publisher, notifier AlertNotifier, logger *zap.SugaredLogger) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.DispatchQueueSize < 1 {
		opts.DispatchQueueSize = 64
	}
	ctx, cancel := context.WithCancel(parentCtx)
	return &Engine{
		rules:      rules,
		windows:    windows,
		dedup:      dedup,
		sink:       sink,
		publisher:  publisher,
		notifier:   notifier,
		eventCh:    make(chan *core.Event, opts.QueueSize),
		dispatchCh: make(chan *core.Alert, opts.DispatchQueueSize),
		workers:    opts.Workers,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
}

// Start launches the evaluation workers and the alert dispatch worker.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	e.dispatchWg.Add(1)
	go e.dispatcher()

	e.logger.Infow("Correlation engine started",
		"workers", e.workers,
		"rules", len(e.rules))
}

// Stop drains in-flight events and dispatches with a bounded grace period.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.eventCh)
	e.mu.Unlock()

	e.waitWithTimeout(&e.wg, 10*time.Second, "engine workers")
	close(e.dispatchCh)
	e.waitWithTimeout(&e.dispatchWg, 10*time.Second, "alert dispatch")
	e.cancel()
}

func (e *Engine) waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration, what string) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warnw("Shutdown wait timed out", "component", what)
	}
}

// Ingest normalizes a raw record and enqueues the event. Normalization
// failures are reported and the record is dropped; the caller decides
// whether to dead-letter it.
func (e *Engine) Ingest(record map[string]interface{}) error {
	event, err := ingest.Normalize(record)
	if err != nil {
		reason := "invalid"
		var nerr *ingest.NormalizationError
		if errors.As(err, &nerr) {
			reason = string(nerr.Reason)
		}
		metrics.NormalizationFailures.WithLabelValues(reason).Inc()
		e.logger.Warnw("Dropping malformed record", "error", err)
		return err
	}
	return e.Submit(event)
}

// Submit enqueues an already-normalized event for evaluation without
// blocking; producers get ErrQueueFull as backpressure.
func (e *Engine) Submit(event *core.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return ErrEngineNotRunning
	}
	select {
	case e.eventCh <- event:
		metrics.EventsIngested.WithLabelValues(event.Source).Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Process evaluates one event synchronously. Exposed for offline replay;
// the server path goes through Submit and the worker goroutines.
func (e *Engine) Process(event *core.Event) {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	if e.publisher != nil {
		e.publisher.PublishEvent(event)
	}

	for _, rule := range e.rules {
		firing, fired := e.evaluateRule(rule, event)
		if !fired {
			continue
		}

		alert := core.NewAlert(rule, event, firing)
		if !e.dedup.Admit(alert, rule.Cooldown()) {
			metrics.AlertsSuppressed.WithLabelValues(alert.Type).Inc()
			continue
		}
		metrics.AlertsGenerated.WithLabelValues(string(alert.Severity), alert.Type).Inc()
		e.logger.Infow("Alert admitted",
			"rule_id", alert.RuleID,
			"severity", alert.Severity,
			"ip", alert.IP,
			"description", alert.Description)

		// The identical alert value goes to persistence and broadcast;
		// broadcast happens even if the sink later fails.
		e.enqueueDispatch(alert)
		if e.publisher != nil {
			e.publisher.PublishAlert(alert)
		}
	}
}

// evaluateRule isolates one rule evaluation: a panicking rule is reported
// and treated as not fired, never aborting the other rules or the event.
func (e *Engine) evaluateRule(rule core.Rule, event *core.Event) (firing *core.Firing, fired bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RuleEvaluationPanics.WithLabelValues(rule.ID()).Inc()
			e.logger.Errorw("Rule evaluation panicked",
				"rule_id", rule.ID(),
				"event_id", event.EventID,
				"panic", r)
			firing, fired = nil, false
		}
	}()
	return rule.Evaluate(event, e.windows)
}

func (e *Engine) enqueueDispatch(alert *core.Alert) {
	if e.sink == nil && e.notifier == nil {
		return
	}
	select {
	case e.dispatchCh <- alert:
	default:
		metrics.AlertSinkFailures.Inc()
		e.logger.Warnw("Alert dispatch queue full, dropping persistence",
			"rule_id", alert.RuleID,
			"alert_id", alert.AlertID)
	}
}

func (e *Engine) worker(id int) {
	defer e.wg.Done()
	defer goroutine.Recover("engine-worker", e.logger)
	for event := range e.eventCh {
		e.Process(event)
	}
	e.logger.Debugw("Engine worker stopped", "worker_id", id)
}

// dispatcher moves admitted alerts to the sink and notifier off the hot
// path, so slow persistence can never stall ingestion.
func (e *Engine) dispatcher() {
	defer e.dispatchWg.Done()
	defer goroutine.Recover("alert-dispatch", e.logger)
	for alert := range e.dispatchCh {
		if e.sink != nil {
			ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
			if err := e.sink.Store(ctx, alert); err != nil {
				metrics.AlertSinkFailures.Inc()
				e.logger.Errorw("Alert persistence failed",
					"alert_id", alert.AlertID,
					"error", err)
			}
			cancel()
		}
		if e.notifier != nil {
			e.notifier.NotifyAlert(alert)
		}
	}
}
