// Package scoring implements the risk-scoring orchestrator: it fans out
// to every enabled detection plugin concurrently, aggregates their
// per-plugin scores into a single 0-100 fraud score using a weighted
// average, and classifies the result into a risk band.
//
// Score is a pure function of the enabled plugin set and the input
// listing (aside from logging): it is commutative in plugin order and
// monotone in plugin weight for a fixed score vector.
package scoring

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/listingcore/core/internal/logger"
	"github.com/listingcore/core/pkg/model"
)

// DefaultConfidenceThreshold filters which signals appear in the output;
// it does not affect a plugin's contribution to the aggregate score.
const DefaultConfidenceThreshold = 0.5

// DefaultDeadline bounds the fan-out's wall time.
const DefaultDeadline = 10 * time.Second

// PluginScore is one detection plugin's raw contribution before aggregation.
type PluginScore struct {
	PluginID string
	Overall  float64 // in [0,1]
	Weight   float64 // in [0,1]
	Signals  []model.RiskSignal
}

// DetectionPlugin is the minimal contract the scoring orchestrator needs
// from a detection plugin; internal/plugins.LoadedPlugin implementations
// satisfy it via an adapter so this package has no dependency on the
// plugin manager.
type DetectionPlugin interface {
	ID() string
	Analyze(ctx context.Context, listing model.Listing) (PluginScore, error)
}

// Config tunes the scoring run.
type Config struct {
	Deadline            time.Duration
	ConfidenceThreshold float64
}

func (c Config) withDefaults() Config {
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	return c
}

// Score fans out to every plugin concurrently, capped by cfg.Deadline. A
// plugin that errors or panics is logged and dropped from the aggregate;
// the remaining plugins still contribute. If plugins is empty, Score
// returns the zero result (fraud_score 0, risk safe) without invoking
// anything.
func Score(ctx context.Context, listing model.Listing, plugins []DetectionPlugin, cfg Config) (model.ScoreResult, error) {
	cfg = cfg.withDefaults()

	if len(plugins) == 0 {
		return model.ScoreResult{FraudScore: 0, RiskLevel: model.RiskSafe}, nil
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	results := make([]*PluginScore, len(plugins))
	g, gctx := errgroup.WithContext(deadlineCtx)
	for i, p := range plugins {
		i, p := i, p
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Scoring().Error().Str("plugin_id", p.ID()).Interface("panic", r).Msg("detection plugin panicked, dropping contribution")
					err = nil
				}
			}()
			score, aerr := p.Analyze(gctx, listing)
			if aerr != nil {
				logger.Scoring().Warn().Err(aerr).Str("plugin_id", p.ID()).Msg("detection plugin errored, dropping contribution")
				return nil
			}
			score.PluginID = p.ID()
			results[i] = &score
			return nil
		})
	}
	// Every goroutine above returns nil (failures are logged and dropped
	// per plugin), so Wait always returns nil; it is called only to block
	// until all plugins have finished.
	_ = g.Wait()

	survivors := make([]PluginScore, 0, len(plugins))
	for _, r := range results {
		if r != nil {
			survivors = append(survivors, *r)
		}
	}

	return aggregate(survivors, cfg), nil
}

// aggregate is a deterministic fold: independent of completion order
// because it only ever consumes the already-collected, plugin-id-keyed
// survivor slice.
func aggregate(survivors []PluginScore, cfg Config) model.ScoreResult {
	if len(survivors) == 0 {
		return model.ScoreResult{FraudScore: 0, RiskLevel: model.RiskSafe}
	}

	totalWeight := 0.0
	for _, s := range survivors {
		totalWeight += s.Weight
	}

	normalized := make([]float64, len(survivors))
	if totalWeight == 0 {
		equal := 1.0 / float64(len(survivors))
		for i := range survivors {
			normalized[i] = equal
		}
	} else {
		for i, s := range survivors {
			normalized[i] = s.Weight / totalWeight
		}
	}

	var fraudScore, confidence float64
	var signals []model.RiskSignal
	for i, s := range survivors {
		fraudScore += s.Overall * normalized[i]

		pluginConfidence := meanConfidence(s.Signals)
		confidence += pluginConfidence * normalized[i]

		for _, sig := range s.Signals {
			if sig.Confidence >= cfg.ConfidenceThreshold {
				signals = append(signals, sig)
			}
		}
	}
	fraudScore *= 100

	return model.ScoreResult{
		FraudScore: fraudScore,
		RiskLevel:  model.ClassifyRisk(fraudScore),
		Signals:    signals,
		Confidence: confidence,
	}
}

// meanConfidence is the mean of a plugin's emitted signal confidences,
// or 0 if it emitted none (the plugin's Overall score still counts
// toward the aggregate; only its confidence contribution is zero).
func meanConfidence(signals []model.RiskSignal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, s := range signals {
		sum += s.Confidence
	}
	return sum / float64(len(signals))
}

// ValidateScoreVector is a defensive guard used by tests and callers
// that construct PluginScore values by hand: it rejects out-of-range
// overall/weight values up front rather than letting them silently skew
// the aggregate.
func ValidateScoreVector(scores []PluginScore) error {
	for _, s := range scores {
		if s.Overall < 0 || s.Overall > 1 {
			return fmt.Errorf("scoring: plugin %q overall score %v out of [0,1]", s.PluginID, s.Overall)
		}
		if s.Weight < 0 || s.Weight > 1 {
			return fmt.Errorf("scoring: plugin %q weight %v out of [0,1]", s.PluginID, s.Weight)
		}
	}
	return nil
}
