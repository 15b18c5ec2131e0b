package ranking

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultWeights verifies the default weight configuration.
func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"engagement.like", w.Engagement.Like, 2},
		{"engagement.comment", w.Engagement.Comment, 3},
		{"engagement.save", w.Engagement.Save, 5},
		{"engagement.view", w.Engagement.View, 0.1},
		{"recency_window_hours", w.RecencyWindowHours, 48},
		{"min_age_hours", w.MinAgeHours, 1},
		{"topic_boost", w.TopicBoost, 12},
		{"social_boost", w.SocialBoost, 40},
		{"saved_boost", w.SavedBoost, 15},
		{"popular_saves_threshold", float64(w.PopularSavesThreshold), 5},
		{"high_engagement_threshold", w.HighEngagementThreshold, 20},
		{"max_topic_reasons", float64(w.MaxTopicReasons), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %g, got %g", tt.want, tt.got)
			}
		})
	}
	if w.Variant != DefaultVariant {
		t.Errorf("expected variant %q, got %q", DefaultVariant, w.Variant)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("default weights should validate: %v", err)
	}
}

// TestLoadCalibration_DefaultFile tests loading the shipped calibration file.
func TestLoadCalibration_DefaultFile(t *testing.T) {
	configPath := filepath.Join("..", "..", "configs", "ranking.calibration.json")
	weights, err := LoadCalibration(configPath)
	if err != nil {
		t.Fatalf("expected no error loading default calibration file, got: %v", err)
	}
	if *weights != *DefaultWeights() {
		t.Errorf("shipped calibration should equal defaults:\nloaded: %+v\ndefaults: %+v", weights, DefaultWeights())
	}
}

func TestLoadCalibration_EmptyPath(t *testing.T) {
	weights, err := LoadCalibration("")
	if err != nil {
		t.Errorf("expected no error with empty path, got: %v", err)
	}
	if *weights != *DefaultWeights() {
		t.Error("should return defaults when path is empty")
	}
}

func TestLoadCalibration_Errors(t *testing.T) {
	dir := t.TempDir()
	invalidJSON := filepath.Join(dir, "invalid.json")
	negative := filepath.Join(dir, "negative.json")
	writeFile(t, invalidJSON, "{invalid json}")
	writeFile(t, negative, `{"weights": {"social_boost": -1}}`)

	for _, path := range []string{"/nonexistent/path/to/file.json", invalidJSON, negative} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			weights, err := LoadCalibration(path)
			if err == nil {
				t.Error("expected an error")
			}
			if *weights != *DefaultWeights() {
				t.Error("should return defaults on error")
			}
		})
	}
}

// TestLoadCalibration_PartialOverride tests that omitted fields keep defaults
// and explicit zeros are applied.
func TestLoadCalibration_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.json")
	writeFile(t, path, `{
		"version": "1.0",
		"variant": "no-views",
		"weights": {
			"engagement": {"view": 0},
			"social_boost": 25,
			"popular_saves_threshold": 10
		}
	}`)

	w, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("expected no error loading custom file, got: %v", err)
	}
	if w.Engagement.View != 0 {
		t.Errorf("expected explicit zero view weight, got %g", w.Engagement.View)
	}
	if w.SocialBoost != 25 {
		t.Errorf("expected social boost 25, got %g", w.SocialBoost)
	}
	if w.PopularSavesThreshold != 10 {
		t.Errorf("expected popular saves threshold 10, got %d", w.PopularSavesThreshold)
	}
	if w.Engagement.Like != 2 || w.TopicBoost != 12 {
		t.Errorf("omitted fields should keep defaults: %+v", w)
	}
	if w.Variant != "no-views" {
		t.Errorf("expected variant no-views, got %q", w.Variant)
	}
}

func TestMergeCalibration(t *testing.T) {
	zero := 0.0
	topic := 20.0
	reasons := 3

	base := DefaultWeights()
	merged := MergeCalibration(base, &WeightOverrides{
		TopicBoost:      &topic,
		SavedBoost:      &zero,
		MaxTopicReasons: &reasons,
	})

	if merged.TopicBoost != 20 || merged.SavedBoost != 0 || merged.MaxTopicReasons != 3 {
		t.Errorf("overrides not applied: %+v", merged)
	}
	if merged.SocialBoost != 40 {
		t.Errorf("expected social boost unchanged, got %g", merged.SocialBoost)
	}
	if *base != *DefaultWeights() {
		t.Error("base weights should not be modified")
	}

	if got := MergeCalibration(nil, nil); *got != *DefaultWeights() {
		t.Error("nil base and override should produce defaults")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
