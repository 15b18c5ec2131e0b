package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
)

// EngagementWeights weights each interaction counter in the engagement sub-score.
type EngagementWeights struct {
	Like    float64 `json:"like"`    // default: 2
	Comment float64 `json:"comment"` // default: 3
	Save    float64 `json:"save"`    // default: 5
	View    float64 `json:"view"`    // default: 0.1
}

// Weights holds every constant the scorer and explainer use.
type Weights struct {
	// Variant labels the calibration in logs and metrics.
	Variant string `json:"-"`

	Engagement EngagementWeights `json:"engagement"`

	RecencyWindowHours float64 `json:"recency_window_hours"` // recency reaches 0 at this age (default: 48)
	MinAgeHours        float64 `json:"min_age_hours"`        // ages below this are clamped up (default: 1)

	TopicBoost  float64 `json:"topic_boost"`  // per matched topic (default: 12)
	SocialBoost float64 `json:"social_boost"` // author followed (default: 40)
	SavedBoost  float64 `json:"saved_boost"`  // item saved by viewer (default: 15)

	PopularSavesThreshold   int64   `json:"popular_saves_threshold"`   // saves >= threshold (default: 5)
	HighEngagementThreshold float64 `json:"high_engagement_threshold"` // engagement > threshold (default: 20)
	MaxTopicReasons         int     `json:"max_topic_reasons"`         // topics named in a reason, 0 for all (default: 2)
}

// DefaultVariant is the variant label of the built-in weights.
const DefaultVariant = "default"

// DefaultWeights returns the default scoring configuration.
//
// engagement = likes*2 + comments*3 + saves*5 + views*0.1
// recency    = max(0, 48 - max(1, ageHours))
// score      = engagement + recency + topicHits*12 + (followed ? 40 : 0) + (saved ? 15 : 0)
func DefaultWeights() *Weights {
	return &Weights{
		Variant: DefaultVariant,
		Engagement: EngagementWeights{
			Like:    2,
			Comment: 3,
			Save:    5,
			View:    0.1,
		},
		RecencyWindowHours:      48,
		MinAgeHours:             1,
		TopicBoost:              12,
		SocialBoost:             40,
		SavedBoost:              15,
		PopularSavesThreshold:   5,
		HighEngagementThreshold: 20,
		MaxTopicReasons:         2,
	}
}

// Validate reports the first weight that would break scoring: negative or
// non-finite values.
func (w *Weights) Validate() error {
	for _, f := range w.fields() {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("ranking weight %s must be finite", f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("ranking weight %s must not be negative, got %g", f.name, f.value)
		}
	}
	return nil
}

type namedWeight struct {
	name  string
	value float64
}

func (w *Weights) fields() []namedWeight {
	return []namedWeight{
		{"engagement.like", w.Engagement.Like},
		{"engagement.comment", w.Engagement.Comment},
		{"engagement.save", w.Engagement.Save},
		{"engagement.view", w.Engagement.View},
		{"recency_window_hours", w.RecencyWindowHours},
		{"min_age_hours", w.MinAgeHours},
		{"topic_boost", w.TopicBoost},
		{"social_boost", w.SocialBoost},
		{"saved_boost", w.SavedBoost},
		{"popular_saves_threshold", float64(w.PopularSavesThreshold)},
		{"high_engagement_threshold", w.HighEngagementThreshold},
		{"max_topic_reasons", float64(w.MaxTopicReasons)},
	}
}

// EngagementOverrides is the calibration form of EngagementWeights.
// A nil field keeps the base value; an explicit zero disables the counter.
type EngagementOverrides struct {
	Like    *float64 `json:"like,omitempty"`
	Comment *float64 `json:"comment,omitempty"`
	Save    *float64 `json:"save,omitempty"`
	View    *float64 `json:"view,omitempty"`
}

// WeightOverrides is the calibration form of Weights.
type WeightOverrides struct {
	Engagement EngagementOverrides `json:"engagement"`

	RecencyWindowHours *float64 `json:"recency_window_hours,omitempty"`
	MinAgeHours        *float64 `json:"min_age_hours,omitempty"`

	TopicBoost  *float64 `json:"topic_boost,omitempty"`
	SocialBoost *float64 `json:"social_boost,omitempty"`
	SavedBoost  *float64 `json:"saved_boost,omitempty"`

	PopularSavesThreshold   *int64   `json:"popular_saves_threshold,omitempty"`
	HighEngagementThreshold *float64 `json:"high_engagement_threshold,omitempty"`
	MaxTopicReasons         *int     `json:"max_topic_reasons,omitempty"`
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string          `json:"version"` // Config version for future compatibility
	Variant string          `json:"variant"` // Experiment variant label, logged and exported
	Weights WeightOverrides `json:"weights"`
}

// LoadCalibration loads scoring weights from a JSON calibration file.
// An empty path returns the defaults. Partial files are merged over the
// defaults. On any error the defaults are returned alongside the error so
// callers can keep serving.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var cfg CalibrationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &cfg.Weights)
	if err := merged.Validate(); err != nil {
		slog.Warn("invalid calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("invalid calibration file: %w", err)
	}
	if cfg.Variant != "" {
		merged.Variant = cfg.Variant
	}
	logCalibrationOverrides(cfg.Version, merged.Variant, defaults, merged)

	return merged, nil
}

// MergeCalibration applies the non-nil overrides to a copy of base.
// A nil base starts from DefaultWeights.
func MergeCalibration(base *Weights, override *WeightOverrides) *Weights {
	if base == nil {
		base = DefaultWeights()
	}
	result := *base
	if override == nil {
		return &result
	}

	setFloat(&result.Engagement.Like, override.Engagement.Like)
	setFloat(&result.Engagement.Comment, override.Engagement.Comment)
	setFloat(&result.Engagement.Save, override.Engagement.Save)
	setFloat(&result.Engagement.View, override.Engagement.View)
	setFloat(&result.RecencyWindowHours, override.RecencyWindowHours)
	setFloat(&result.MinAgeHours, override.MinAgeHours)
	setFloat(&result.TopicBoost, override.TopicBoost)
	setFloat(&result.SocialBoost, override.SocialBoost)
	setFloat(&result.SavedBoost, override.SavedBoost)
	setFloat(&result.HighEngagementThreshold, override.HighEngagementThreshold)
	if override.PopularSavesThreshold != nil {
		result.PopularSavesThreshold = *override.PopularSavesThreshold
	}
	if override.MaxTopicReasons != nil {
		result.MaxTopicReasons = *override.MaxTopicReasons
	}

	return &result
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// logCalibrationOverrides logs which weights differ from the defaults.
func logCalibrationOverrides(version, variant string, defaults, loaded *Weights) {
	var overrides []string
	base := defaults.fields()
	for i, f := range loaded.fields() {
		if f.value != base[i].value {
			overrides = append(overrides, fmt.Sprintf("%s: %g -> %g", f.name, base[i].value, f.value))
		}
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"version", version,
			"variant", variant,
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)",
			"version", version,
			"variant", variant)
	}
}
