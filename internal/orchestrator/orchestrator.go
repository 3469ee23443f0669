// Package orchestrator drives listings through the processing pipeline
// and the risk-scoring orchestrator, and routes failures through the
// retry/dead-letter path described by the queue abstraction's contract.
//
// One Orchestrator owns exactly one subscription to listings.raw. It is
// the only writer to listings.processed, fraud.detected,
// processing.failed, and dead_letter.
package orchestrator

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/listingcore/core/internal/logger"
	"github.com/listingcore/core/internal/plugins"
	"github.com/listingcore/core/pkg/manifest"
	"github.com/listingcore/core/pkg/model"
	"github.com/listingcore/core/pkg/queue"
	"github.com/listingcore/core/pkg/scoring"
)

// DefaultMaxRetries is how many total attempts (including the first) a
// transient failure gets before the event is dead-lettered.
const DefaultMaxRetries = 3

// DefaultPipelineDeadline bounds one listing's trip through the
// processing pipeline and scoring fan-out combined.
const DefaultPipelineDeadline = 60 * time.Second

// DefaultShutdownDeadline bounds how long Stop waits for in-flight
// handlers to drain before returning anyway.
const DefaultShutdownDeadline = 10 * time.Second

// Config tunes one Orchestrator instance.
type Config struct {
	MaxRetries       int
	PipelineDeadline time.Duration
	ShutdownDeadline time.Duration
	Scoring          scoring.Config
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PipelineDeadline <= 0 {
		c.PipelineDeadline = DefaultPipelineDeadline
	}
	if c.ShutdownDeadline <= 0 {
		c.ShutdownDeadline = DefaultShutdownDeadline
	}
	return c
}

// Stats are the orchestrator's running counters, safe for concurrent use.
type Stats struct {
	EventsProcessed    int64
	EventsFailed       int64
	TotalProcessingNS  int64

	mu               sync.Mutex
	pluginExecutions map[string]int64
}

func newStats() *Stats {
	return &Stats{pluginExecutions: make(map[string]int64)}
}

func (s *Stats) recordPluginRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pluginExecutions[id]++
}

// PluginExecutions returns a snapshot of per-plugin invocation counts.
func (s *Stats) PluginExecutions() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.pluginExecutions))
	for k, v := range s.pluginExecutions {
		out[k] = v
	}
	return out
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	EventsProcessed   int64
	EventsFailed      int64
	TotalProcessingNS int64
	PluginExecutions  map[string]int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		EventsProcessed:   atomic.LoadInt64(&s.EventsProcessed),
		EventsFailed:      atomic.LoadInt64(&s.EventsFailed),
		TotalProcessingNS: atomic.LoadInt64(&s.TotalProcessingNS),
		PluginExecutions:  s.PluginExecutions(),
	}
}

// Orchestrator subscribes to listings.raw and drives the processing
// pipeline, risk scoring, and retry/DLQ routing for every delivery.
type Orchestrator struct {
	q       queue.Queue
	manager *plugins.Manager
	cfg     Config
	stats   *Stats

	subID string

	inFlight sync.WaitGroup
	draining atomic.Bool

	dlqMu  sync.Mutex
	dlq    map[string][]byte
}

// New constructs an Orchestrator over q and manager. It does not start
// consuming until Start is called.
func New(q queue.Queue, manager *plugins.Manager, cfg Config) *Orchestrator {
	return &Orchestrator{
		q:       q,
		manager: manager,
		cfg:     cfg.withDefaults(),
		stats:   newStats(),
		dlq:     make(map[string][]byte),
	}
}

// Start subscribes to listings.raw and begins processing deliveries.
func (o *Orchestrator) Start(ctx context.Context) error {
	subID, err := o.q.Subscribe(ctx, queue.TopicListingsRaw, o.handleRaw)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribing to %s: %w", queue.TopicListingsRaw, err)
	}
	o.subID = subID
	logger.Orchestrator().Info().Str("topic", queue.TopicListingsRaw).Msg("orchestrator started")
	return nil
}

// Stop stops accepting new deliveries and waits up to the configured
// shutdown deadline for in-flight handlers to finish.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.draining.Store(true)
	if o.subID != "" {
		if err := o.q.Unsubscribe(ctx, o.subID); err != nil {
			logger.Orchestrator().Warn().Err(err).Msg("unsubscribe during shutdown failed")
		}
	}

	done := make(chan struct{})
	go func() {
		o.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(o.cfg.ShutdownDeadline):
		logger.Orchestrator().Warn().Msg("shutdown deadline exceeded with handlers still in flight")
		return fmt.Errorf("orchestrator: shutdown deadline exceeded")
	}
}

// Stats returns a snapshot of the orchestrator's running counters.
func (o *Orchestrator) Stats() Snapshot {
	return o.stats.Snapshot()
}

// Health reports the backing queue's connectivity alongside the current
// counters, for the control surface's health view.
func (o *Orchestrator) Health(ctx context.Context) (queue.HealthStatus, Snapshot, error) {
	hs, err := o.q.HealthCheck(ctx)
	return hs, o.stats.Snapshot(), err
}

// handleRaw is the queue.Handler bound to listings.raw. Every processing
// outcome (success, transient retry via republish, permanent failure via
// DLQ) is resolved inline and handleRaw returns nil, so the queue acks the
// delivery. A delivery that arrives while the orchestrator is draining is
// instead rejected with requeue, and Reject's error, if any, is returned.
func (o *Orchestrator) handleRaw(ctx context.Context, msg queue.Message) error {
	if o.draining.Load() {
		return o.q.Reject(ctx, msg, true)
	}
	o.inFlight.Add(1)
	defer o.inFlight.Done()

	start := time.Now()
	var raw model.RawListingEvent
	if err := json.Unmarshal(msg.Body, &raw); err != nil {
		o.deadLetter(ctx, model.Envelope{EventID: uuid.New().String()}, msg.Body, "decode", "permanent", err)
		return nil
	}

	pipelineCtx, cancel := context.WithTimeout(ctx, o.cfg.PipelineDeadline)
	defer cancel()

	listing, stages, err := o.runPipeline(pipelineCtx, raw)
	if err != nil {
		o.handleFailure(ctx, raw, msg.Body, stages, err)
		return nil
	}

	result, err := o.runScoring(pipelineCtx, listing)
	if err != nil {
		o.handleFailure(ctx, raw, msg.Body, stages, err)
		return nil
	}

	o.emitProcessed(ctx, raw.Envelope, listing, stages, result, time.Since(start))
	atomic.AddInt64(&o.stats.EventsProcessed, 1)
	atomic.AddInt64(&o.stats.TotalProcessingNS, int64(time.Since(start)))
	return nil
}

// runPipeline unmarshals the raw payload into a Listing and runs it
// through every Enabled processing plugin in ascending priority order,
// failing fast on the first error.
func (o *Orchestrator) runPipeline(ctx context.Context, raw model.RawListingEvent) (model.Listing, []string, error) {
	var listing model.Listing
	if err := json.Unmarshal(raw.Payload, &listing); err != nil {
		return listing, nil, plugins.NewPermanentError("decoding raw payload", err)
	}

	stages := make([]string, 0, 4)
	for _, lp := range o.enabledProcessingPlugins() {
		proc, ok := lp.Instance.(plugins.ProcessingPlugin)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return listing, stages, ctx.Err()
		default:
		}

		next, err := proc.Process(ctx, listing)
		o.stats.recordPluginRun(lp.Manifest.ID)
		atomic.AddInt64(&lp.Counters.Invocations, 1)
		if err != nil {
			atomic.AddInt64(&lp.Counters.Failures, 1)
			return listing, stages, fmt.Errorf("stage %s: %w", lp.Manifest.ID, stageError{stage: lp.Manifest.ID, err: err})
		}
		listing = next
		stages = append(stages, lp.Manifest.ID)
	}
	if err := listing.Valid(); err != nil {
		return listing, stages, plugins.NewPermanentError("listing failed UDM validation after pipeline", err)
	}
	return listing, stages, nil
}

// stageError records which pipeline stage produced an error, without
// changing the error's transient/permanent classification (Unwrap
// exposes the original for errors.As).
type stageError struct {
	stage string
	err   error
}

func (e stageError) Error() string { return e.err.Error() }
func (e stageError) Unwrap() error { return e.err }

func (o *Orchestrator) enabledProcessingPlugins() []*plugins.LoadedPlugin {
	list := o.manager.List(plugins.Filter{Kind: manifest.KindProcessing, State: plugins.StateEnabled})
	sort.Slice(list, func(i, j int) bool {
		pi, _ := list[i].Instance.(plugins.ProcessingPlugin)
		pj, _ := list[j].Instance.(plugins.ProcessingPlugin)
		if pi == nil || pj == nil {
			return list[i].Manifest.ID < list[j].Manifest.ID
		}
		if pi.Priority() != pj.Priority() {
			return pi.Priority() < pj.Priority()
		}
		return list[i].Manifest.ID < list[j].Manifest.ID
	})
	return list
}

func (o *Orchestrator) runScoring(ctx context.Context, listing model.Listing) (model.ScoreResult, error) {
	enabled := o.manager.List(plugins.Filter{Kind: manifest.KindDetection, State: plugins.StateEnabled})
	detectors := make([]scoring.DetectionPlugin, 0, len(enabled))
	for _, lp := range enabled {
		det, ok := lp.Instance.(plugins.DetectionPlugin)
		if !ok {
			continue
		}
		o.stats.recordPluginRun(lp.Manifest.ID)
		atomic.AddInt64(&lp.Counters.Invocations, 1)
		detectors = append(detectors, plugins.AsScoringPlugin(det))
	}
	return scoring.Score(ctx, listing, detectors, o.cfg.Scoring)
}

func (o *Orchestrator) emitProcessed(ctx context.Context, env model.Envelope, listing model.Listing, stages []string, result model.ScoreResult, duration time.Duration) {
	processedEnvelope := env.Child(uuid.New().String(), model.EventTypeListingProcessed)
	processed := model.ProcessedListingEvent{
		Envelope:   processedEnvelope,
		Listing:    listing,
		Stages:     stages,
		FraudScore: result.FraudScore,
		RiskLevel:  result.RiskLevel,
		Signals:    result.Signals,
		Duration:   duration,
	}
	o.publish(ctx, queue.TopicListingsProcessed, processed)

	if result.RiskLevel == model.RiskFraud {
		fraudEnvelope := processedEnvelope.Child(uuid.New().String(), model.EventTypeFraudDetected)
		fraud := model.FraudDetectedEvent{
			Envelope:   fraudEnvelope,
			ListingID:  listing.ListingID,
			FraudScore: result.FraudScore,
			Signals:    result.Signals,
		}
		o.publish(ctx, queue.TopicFraudDetected, fraud)
	}
}

func (o *Orchestrator) publish(ctx context.Context, topic string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Orchestrator().Error().Err(err).Str("topic", topic).Msg("failed to marshal event for publish")
		return
	}
	if _, err := o.q.Publish(ctx, topic, body); err != nil {
		logger.Orchestrator().Error().Err(err).Str("topic", topic).Msg("failed to publish event")
	}
}

// handleFailure classifies err as transient or permanent and applies the
// retry policy: transient failures are republished to listings.raw with
// an incremented retry_count until max_retries is reached, at which
// point (and immediately, for permanent failures) the event is routed to
// processing.failed and dead_letter.
func (o *Orchestrator) handleFailure(ctx context.Context, raw model.RawListingEvent, originalBody []byte, stages []string, err error) {
	failedStage := "pipeline"
	var se stageError
	if stderrors.As(err, &se) {
		failedStage = se.stage
	} else if len(stages) > 0 {
		failedStage = "scoring"
	}

	var permErr *plugins.PermanentError
	isPermanent := stderrors.As(err, &permErr)

	if !isPermanent {
		newRetryCount := raw.Envelope.RetryCount + 1
		if newRetryCount < o.cfg.MaxRetries {
			retried := raw
			retried.Envelope.RetryCount = newRetryCount
			body, merr := json.Marshal(retried)
			if merr == nil {
				if _, perr := o.q.Publish(ctx, queue.TopicListingsRaw, body); perr == nil {
					logger.Orchestrator().Warn().Str("event_id", raw.Envelope.EventID).Int("retry_count", newRetryCount).Err(err).Msg("transient processing failure, republished for retry")
					return
				}
			}
		}
	}

	atomic.AddInt64(&o.stats.EventsFailed, 1)
	kind := "transient"
	if isPermanent {
		kind = "permanent"
	}
	o.deadLetter(ctx, raw.Envelope, originalBody, failedStage, kind, err)
}

func (o *Orchestrator) deadLetter(ctx context.Context, env model.Envelope, originalBody []byte, stage, kind string, cause error) {
	failure := model.ProcessingFailedEvent{
		Envelope:     env.Child(uuid.New().String(), model.EventTypeProcessingFailed),
		FailedStage:  stage,
		ErrorKind:    kind,
		Message:      cause.Error(),
		OriginalBody: originalBody,
	}
	body, err := json.Marshal(failure)
	if err != nil {
		logger.Orchestrator().Error().Err(err).Msg("failed to marshal dead-letter entry")
		return
	}

	o.publish(ctx, queue.TopicProcessingFailed, failure)
	if _, err := o.q.Publish(ctx, queue.TopicDeadLetter, body); err != nil {
		logger.Orchestrator().Error().Err(err).Msg("failed to publish to dead letter queue")
	}

	o.dlqMu.Lock()
	o.dlq[env.EventID] = body
	o.dlqMu.Unlock()

	logger.Orchestrator().Error().Str("event_id", env.EventID).Str("stage", stage).Str("kind", kind).Err(cause).Msg("event routed to dead letter queue")
}

// Replay re-publishes a dead-lettered event to listings.raw with
// retry_count reset to zero, for manual recovery after an operator has
// fixed the underlying cause. It looks up the original body from the
// orchestrator's own in-process record of what it dead-lettered; a
// durable deployment would instead read the dead_letter topic/stream
// directly, but the queue abstraction exposes no keyed lookup, so this
// is a best-effort helper scoped to one orchestrator's lifetime.
func (o *Orchestrator) Replay(ctx context.Context, eventID string) error {
	o.dlqMu.Lock()
	body, ok := o.dlq[eventID]
	o.dlqMu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: no dead-letter entry recorded for event %s", eventID)
	}

	var failure model.ProcessingFailedEvent
	if err := json.Unmarshal(body, &failure); err != nil {
		return fmt.Errorf("orchestrator: decoding dead-letter entry for %s: %w", eventID, err)
	}

	var raw model.RawListingEvent
	if err := json.Unmarshal(failure.OriginalBody, &raw); err != nil {
		return fmt.Errorf("orchestrator: original body for %s is not a replayable raw listing event: %w", eventID, err)
	}
	raw.Envelope.RetryCount = 0

	replayBody, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("orchestrator: re-marshaling replay for %s: %w", eventID, err)
	}
	if _, err := o.q.Publish(ctx, queue.TopicListingsRaw, replayBody); err != nil {
		return fmt.Errorf("orchestrator: republishing replay for %s: %w", eventID, err)
	}
	return nil
}
