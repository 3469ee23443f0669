package plugins

import (
	"context"

	"github.com/listingcore/core/pkg/model"
	"github.com/listingcore/core/pkg/scoring"
)

// scoringAdapter satisfies pkg/scoring.DetectionPlugin without pkg/scoring
// needing to depend on this package's broader Plugin contract.
type scoringAdapter struct {
	plugin DetectionPlugin
}

func (a scoringAdapter) ID() string { return a.plugin.ID() }

// Analyze delegates to the plugin. A plugin that leaves PluginScore.Weight
// at zero inherits its declared Weight() so the manifest's weight hint
// still reaches the aggregation.
func (a scoringAdapter) Analyze(ctx context.Context, listing model.Listing) (scoring.PluginScore, error) {
	score, err := a.plugin.Analyze(ctx, listing)
	if err != nil {
		return score, err
	}
	if score.Weight == 0 {
		score.Weight = a.plugin.Weight()
	}
	return score, nil
}

// AsScoringPlugin adapts a DetectionPlugin for use with pkg/scoring.Score.
func AsScoringPlugin(p DetectionPlugin) scoring.DetectionPlugin {
	return scoringAdapter{plugin: p}
}
