package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingcore/core/internal/plugins"
	"github.com/listingcore/core/pkg/manifest"
	"github.com/listingcore/core/pkg/model"
	"github.com/listingcore/core/pkg/queue"
	"github.com/listingcore/core/pkg/scoring"
)

type stageProcessor struct {
	id       string
	priority int
	failN    int // number of calls that fail before succeeding
	calls    int
	permanent bool
}

func (p *stageProcessor) ID() string                                               { return p.id }
func (p *stageProcessor) Configure(ctx context.Context, _ map[string]interface{}) error { return nil }
func (p *stageProcessor) Shutdown(ctx context.Context) error                       { return nil }
func (p *stageProcessor) Priority() int                                            { return p.priority }

func (p *stageProcessor) Process(ctx context.Context, listing model.Listing) (model.Listing, error) {
	p.calls++
	if p.calls <= p.failN {
		if p.permanent {
			return listing, plugins.NewPermanentError("bad listing schema", assertErr("permanent stage failure"))
		}
		return listing, assertErr("transient stage failure")
	}
	listing.Metadata = mergeTag(listing.Metadata, p.id)
	return listing, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func mergeTag(m map[string]interface{}, tag string) map[string]interface{} {
	if m == nil {
		m = map[string]interface{}{}
	}
	m[tag] = true
	return m
}

type fixedDetector struct {
	id      string
	weight  float64
	overall float64
}

func (d *fixedDetector) ID() string                                               { return d.id }
func (d *fixedDetector) Configure(ctx context.Context, _ map[string]interface{}) error { return nil }
func (d *fixedDetector) Shutdown(ctx context.Context) error                       { return nil }
func (d *fixedDetector) Weight() float64                                          { return d.weight }
func (d *fixedDetector) Analyze(ctx context.Context, listing model.Listing) (scoring.PluginScore, error) {
	return scoring.PluginScore{Overall: d.overall, Weight: d.weight}, nil
}

func setupManager(t *testing.T, processors []*stageProcessor, detectors []*fixedDetector) *plugins.Manager {
	t.Helper()
	mgr := plugins.NewManager(nil)
	var manifests []*manifest.Manifest

	for _, p := range processors {
		module := "test/" + p.id
		plugins.RegisterBuiltin(module, func(p *stageProcessor) plugins.Factory {
			return func() plugins.Plugin { return p }
		}(p))
		manifests = append(manifests, &manifest.Manifest{
			ID: p.id, Name: p.id, Version: "1.0.0", Kind: manifest.KindProcessing,
			APIVersion: "1.0", Description: "test",
			Entrypoint: manifest.Entrypoint{Module: module},
		})
	}
	for _, d := range detectors {
		module := "test/" + d.id
		plugins.RegisterBuiltin(module, func(d *fixedDetector) plugins.Factory {
			return func() plugins.Plugin { return d }
		}(d))
		manifests = append(manifests, &manifest.Manifest{
			ID: d.id, Name: d.id, Version: "1.0.0", Kind: manifest.KindDetection,
			APIVersion: "1.0", Description: "test",
			Entrypoint: manifest.Entrypoint{Module: module},
		})
	}

	result := mgr.Load(context.Background(), manifests)
	require.Empty(t, result.Failed)
	for _, lp := range result.Loaded {
		require.NoError(t, mgr.Enable(context.Background(), lp.Manifest.ID))
	}
	return mgr
}

func publishRaw(t *testing.T, q queue.Queue, listingID string, price float64) {
	t.Helper()
	listing := model.Listing{
		ListingID: listingID,
		Source:    model.Source{Platform: "test-portal"},
		Price:     model.Price{Amount: price, Currency: "EUR"},
		Location:  model.Location{Country: "PT", City: "Lisboa"},
	}
	payload, err := json.Marshal(listing)
	require.NoError(t, err)

	raw := model.RawListingEvent{
		Envelope: model.Envelope{EventID: listingID + "-evt", EventType: model.EventTypeRawListing, MaxRetries: DefaultMaxRetries},
		Payload:  payload,
	}
	body, err := json.Marshal(raw)
	require.NoError(t, err)
	_, err = q.Publish(context.Background(), queue.TopicListingsRaw, body)
	require.NoError(t, err)
}

func drainOne(t *testing.T, q *queue.MemoryQueue, topic string, timeout time.Duration) []byte {
	t.Helper()
	ch := make(chan []byte, 1)
	subID, err := q.Subscribe(context.Background(), topic, func(ctx context.Context, msg queue.Message) error {
		select {
		case ch <- msg.Body:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	defer q.Unsubscribe(context.Background(), subID)

	select {
	case body := <-ch:
		return body
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for a message on %s", topic)
		return nil
	}
}

func TestOrchestrator_HappyPipelineSafe(t *testing.T) {
	mgr := setupManager(t,
		[]*stageProcessor{
			{id: "plugin-processing-normalize", priority: 1},
			{id: "plugin-processing-geocode", priority: 2},
			{id: "plugin-processing-enrich", priority: 3},
		},
		[]*fixedDetector{
			{id: "plugin-detection-a", weight: 0.5, overall: 0.1},
			{id: "plugin-detection-b", weight: 0.5, overall: 0.2},
		},
	)
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Connect(context.Background()))
	orch := New(q, mgr, Config{})
	require.NoError(t, orch.Start(context.Background()))

	publishRaw(t, q, "L1", 500000)

	body := drainOne(t, q, queue.TopicListingsProcessed, 2*time.Second)
	var processed model.ProcessedListingEvent
	require.NoError(t, json.Unmarshal(body, &processed))

	assert.Equal(t, []string{"plugin-processing-normalize", "plugin-processing-geocode", "plugin-processing-enrich"}, processed.Stages)
	assert.InDelta(t, 15.0, processed.FraudScore, 0.001)
	assert.Equal(t, model.RiskSafe, processed.RiskLevel)
}

func TestOrchestrator_FraudFlagEmitsBothEvents(t *testing.T) {
	mgr := setupManager(t,
		[]*stageProcessor{{id: "plugin-processing-normalize", priority: 1}},
		[]*fixedDetector{
			{id: "plugin-detection-a", weight: 0.6, overall: 0.9},
			{id: "plugin-detection-b", weight: 0.4, overall: 0.8},
		},
	)
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Connect(context.Background()))
	orch := New(q, mgr, Config{})
	require.NoError(t, orch.Start(context.Background()))

	publishRaw(t, q, "L2", 300000)

	processedBody := drainOne(t, q, queue.TopicListingsProcessed, 2*time.Second)
	var processed model.ProcessedListingEvent
	require.NoError(t, json.Unmarshal(processedBody, &processed))
	assert.InDelta(t, 86.0, processed.FraudScore, 0.001)
	assert.Equal(t, model.RiskFraud, processed.RiskLevel)

	fraudBody := drainOne(t, q, queue.TopicFraudDetected, 2*time.Second)
	var fraud model.FraudDetectedEvent
	require.NoError(t, json.Unmarshal(fraudBody, &fraud))
	assert.Equal(t, processed.Envelope.EventID, fraud.Envelope.ParentEventID)
}

func TestOrchestrator_TransientThenSuccess(t *testing.T) {
	flaky := &stageProcessor{id: "plugin-processing-flaky", priority: 2, failN: 2}
	mgr := setupManager(t, []*stageProcessor{flaky}, nil)
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Connect(context.Background()))
	orch := New(q, mgr, Config{MaxRetries: 3})
	require.NoError(t, orch.Start(context.Background()))

	publishRaw(t, q, "L3", 200000)

	body := drainOne(t, q, queue.TopicListingsProcessed, 2*time.Second)
	var processed model.ProcessedListingEvent
	require.NoError(t, json.Unmarshal(body, &processed))
	assert.Equal(t, 3, flaky.calls)

	snap := orch.Stats()
	assert.Equal(t, int64(0), snap.EventsFailed)
	assert.Equal(t, int64(1), snap.EventsProcessed)
}

func TestOrchestrator_PermanentFailureGoesStraightToDLQ(t *testing.T) {
	broken := &stageProcessor{id: "plugin-processing-broken", priority: 1, failN: 1, permanent: true}
	mgr := setupManager(t, []*stageProcessor{broken}, nil)
	q := queue.NewMemoryQueue()
	require.NoError(t, q.Connect(context.Background()))
	orch := New(q, mgr, Config{MaxRetries: 3})
	require.NoError(t, orch.Start(context.Background()))

	publishRaw(t, q, "L4", 100000)

	failedBody := drainOne(t, q, queue.TopicProcessingFailed, 2*time.Second)
	var failed model.ProcessingFailedEvent
	require.NoError(t, json.Unmarshal(failedBody, &failed))
	assert.Equal(t, "permanent", failed.ErrorKind)

	dlqBody := drainOne(t, q, queue.TopicDeadLetter, 2*time.Second)
	assert.NotEmpty(t, dlqBody)

	assert.Equal(t, 1, broken.calls)
	snap := orch.Stats()
	assert.Equal(t, int64(1), snap.EventsFailed)
	assert.Equal(t, int64(0), snap.EventsProcessed)
}
