package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRisk_Bands(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskSafe},
		{15, RiskSafe},
		{29.999, RiskSafe},
		{30, RiskSuspicious},
		{50, RiskSuspicious},
		{69.999, RiskSuspicious},
		{70, RiskFraud},
		{86, RiskFraud},
		{100, RiskFraud},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyRisk(tt.score), "score %v", tt.score)
	}
}

func validListing() Listing {
	return Listing{
		ListingID: "7b0c2c4e-9f3a-4a1d-8a44-0c2f4bb0f001",
		Source:    Source{Platform: "idealista", URL: "https://example.test/l/1"},
		Type:      "sale",
		Location:  Location{Country: "PT", City: "Lisboa", Latitude: 38.72, Longitude: -9.14},
		Price:     Price{Amount: 500000, Currency: "EUR"},
	}
}

func TestListing_Valid(t *testing.T) {
	require.NoError(t, validListing().Valid())

	tests := []struct {
		name   string
		mutate func(l *Listing)
	}{
		{"empty listing id", func(l *Listing) { l.ListingID = "" }},
		{"empty platform", func(l *Listing) { l.Source.Platform = "" }},
		{"negative price", func(l *Listing) { l.Price.Amount = -1 }},
		{"latitude too high", func(l *Listing) { l.Location.Latitude = 91 }},
		{"latitude too low", func(l *Listing) { l.Location.Latitude = -91 }},
		{"longitude too high", func(l *Listing) { l.Location.Longitude = 181 }},
		{"longitude too low", func(l *Listing) { l.Location.Longitude = -181 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := validListing()
			tt.mutate(&l)
			err := l.Valid()
			require.Error(t, err)
			var invalid *InvalidListingError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestListing_Valid_ZeroCoordinatesAccepted(t *testing.T) {
	l := validListing()
	l.Location.Latitude = 0
	l.Location.Longitude = 0
	assert.NoError(t, l.Valid())
}

func TestEnvelope_Child_PropagatesTraceAndLineage(t *testing.T) {
	parent := Envelope{
		EventID:        "evt-parent",
		EventType:      EventTypeRawListing,
		Timestamp:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SourcePluginID: "plugin-source-idealista",
		SourcePlatform: "idealista",
		TraceID:        "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		RequestID:      "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		RetryCount:     2,
		MaxRetries:     3,
	}

	child := parent.Child("evt-child", EventTypeListingProcessed)

	assert.Equal(t, "evt-child", child.EventID)
	assert.Equal(t, EventTypeListingProcessed, child.EventType)
	assert.Equal(t, "evt-parent", child.ParentEventID)
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.RequestID, child.RequestID)
	assert.Equal(t, parent.MaxRetries, child.MaxRetries)
	assert.Zero(t, child.RetryCount)

	grandchild := child.Child("evt-grandchild", EventTypeFraudDetected)
	assert.Equal(t, "evt-child", grandchild.ParentEventID)
	assert.Equal(t, parent.TraceID, grandchild.TraceID)
}

func TestEnvelope_SerializeRoundTripStable(t *testing.T) {
	env := Envelope{
		EventID:    "evt-1",
		EventType:  EventTypeListingProcessed,
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		TraceID:    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		RequestID:  "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		RetryCount: 1,
		MaxRetries: 3,
		Tags:       map[string]string{"region": "pt"},
	}

	first, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(first, &decoded))

	second, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProcessedListingEvent_RoundTrip(t *testing.T) {
	event := ProcessedListingEvent{
		Envelope:   Envelope{EventID: "evt-2", EventType: EventTypeListingProcessed},
		Listing:    validListing(),
		Stages:     []string{"normalize", "geocode", "enrich"},
		FraudScore: 15,
		RiskLevel:  RiskSafe,
		Signals: []RiskSignal{
			{SignalType: "price_anomaly", Score: 0.1, Confidence: 0.8, PluginID: "plugin-detection-price", Reason: "within market band"},
		},
		Duration: 120 * time.Millisecond,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded ProcessedListingEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, event, decoded)
}
