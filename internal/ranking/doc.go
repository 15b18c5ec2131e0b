// Package ranking produces personalized, explained feed pages.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		slog.Warn("using default weights", "error", err)
//	}
//
//	engine := ranking.NewEngine(profiles, content.NewRetriever(items, 200, logger),
//		ranking.WithWeights(weights),
//		ranking.WithMetrics(metrics),
//	)
//	result, err := engine.Rank(ctx, ranking.Request{ViewerID: id, Page: 1, PageSize: 20})
//
// Pipeline:
//
// The viewer profile is resolved first. Anonymous requests, unknown viewers
// and profile store failures select FallbackStrategy, which scores on
// engagement and recency only; everything else uses PersonalizedStrategy,
// which adds topic, social and saved boosts. Candidates are retrieved through
// a content.Filter so hidden items never reach scoring, then sorted by score,
// creation time and id, sliced into the requested page and explained.
//
// Scoring:
//
// Every component is additive and non-negative:
//
//	engagement = likes*2 + comments*3 + saves*5 + views*0.1
//	recency    = max(0, 48 - max(1, ageHours))
//	topic      = matchedTopics * 12
//	social     = 40 when the author is followed
//	saved      = 15 when the viewer saved the item
//
// Calibration:
//
// All constants live in Weights and can be overridden per deployment with a
// JSON calibration file. Fields omitted from the file keep their defaults;
// an explicit zero disables a signal. The calibration variant label is
// attached to metrics so weight experiments can be compared.
package ranking
