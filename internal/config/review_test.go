package config

import (
	"testing"
)

// TestDefaultReviewConfig tests the defaults applied when a repo has no config file
func TestDefaultReviewConfig(t *testing.T) {
	cfg := DefaultReviewConfig()

	if len(cfg.Paths.Include) != 1 || cfg.Paths.Include[0] != "**/*" {
		t.Errorf("Expected include ['**/*'], got %v", cfg.Paths.Include)
	}
	if !cfg.Rules.Security || !cfg.Rules.Performance || !cfg.Rules.Style || !cfg.Rules.Bugs {
		t.Error("Expected security/performance/style/bugs enabled by default")
	}
	if cfg.Rules.Documentation {
		t.Error("Expected documentation disabled by default")
	}
	if !cfg.AutoReview {
		t.Error("Expected auto_review true by default")
	}
	if !cfg.ReviewsOn("opened") || !cfg.ReviewsOn("synchronize") {
		t.Error("Expected review_on to default to opened and synchronize")
	}
	if cfg.ReviewsOn("reopened") {
		t.Error("Expected reopened to be absent by default")
	}
	if cfg.MaxFiles != 50 {
		t.Errorf("Expected max_files 50, got %d", cfg.MaxFiles)
	}
}

// TestParseReviewConfig tests parsing a repository config file
func TestParseReviewConfig(t *testing.T) {
	data := []byte(`
paths:
  include: ["src/**/*.go"]
  exclude: ["**/*_test.go"]
rules:
  security: true
  performance: false
  style: false
  bugs: true
  documentation: true
  custom:
    naming: "Flag identifiers that do not follow the style guide"
auto_review: false
review_on: [opened, reopened]
max_files: 25
context_files: [README.md, go.mod]
model: "claude-opus-4-1"
languages: [go]
frameworks: [gin]
additional_instructions: "Focus on concurrency"
`)

	cfg, err := ParseReviewConfig(data)
	if err != nil {
		t.Fatalf("ParseReviewConfig() failed: %v", err)
	}

	if cfg.Paths.Include[0] != "src/**/*.go" {
		t.Errorf("Unexpected include: %v", cfg.Paths.Include)
	}
	if cfg.Rules.Performance || cfg.Rules.Style {
		t.Error("Expected performance and style disabled")
	}
	if cfg.Rules.Custom["naming"] == "" {
		t.Error("Expected custom rule to survive parsing")
	}
	if cfg.AutoReview {
		t.Error("Expected auto_review false")
	}
	if !cfg.ReviewsOn("reopened") || cfg.ReviewsOn("synchronize") {
		t.Errorf("Unexpected review_on: %v", cfg.ReviewOn)
	}
	if cfg.MaxFiles != 25 {
		t.Errorf("Expected max_files 25, got %d", cfg.MaxFiles)
	}
	if cfg.Model != "claude-opus-4-1" {
		t.Errorf("Unexpected model '%s'", cfg.Model)
	}
}

// TestParseReviewConfig_Invalid tests the YAML error path
func TestParseReviewConfig_Invalid(t *testing.T) {
	if _, err := ParseReviewConfig([]byte("paths: [not: a: map")); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

// TestReviewConfig_Normalize tests clamping of out-of-range values
func TestReviewConfig_Normalize(t *testing.T) {
	t.Run("max_files clamped high", func(t *testing.T) {
		cfg, err := ParseReviewConfig([]byte("max_files: 5000"))
		if err != nil {
			t.Fatalf("ParseReviewConfig() failed: %v", err)
		}
		if cfg.MaxFiles != MaxReviewMaxFiles {
			t.Errorf("Expected max_files clamped to %d, got %d", MaxReviewMaxFiles, cfg.MaxFiles)
		}
	})

	t.Run("max_files clamped low", func(t *testing.T) {
		cfg, err := ParseReviewConfig([]byte("max_files: -3"))
		if err != nil {
			t.Fatalf("ParseReviewConfig() failed: %v", err)
		}
		if cfg.MaxFiles != MinReviewMaxFiles {
			t.Errorf("Expected max_files clamped to %d, got %d", MinReviewMaxFiles, cfg.MaxFiles)
		}
	})

	t.Run("context files truncated", func(t *testing.T) {
		cfg, err := ParseReviewConfig([]byte("context_files: [a, b, c, d, e, f, g]"))
		if err != nil {
			t.Fatalf("ParseReviewConfig() failed: %v", err)
		}
		if len(cfg.ContextFiles) != MaxContextFiles {
			t.Errorf("Expected %d context files, got %d", MaxContextFiles, len(cfg.ContextFiles))
		}
	})

	t.Run("unknown triggers dropped", func(t *testing.T) {
		cfg, err := ParseReviewConfig([]byte("review_on: [opened, closed, merged]"))
		if err != nil {
			t.Fatalf("ParseReviewConfig() failed: %v", err)
		}
		if len(cfg.ReviewOn) != 1 || cfg.ReviewOn[0] != "opened" {
			t.Errorf("Expected only 'opened' to survive, got %v", cfg.ReviewOn)
		}
	})

	t.Run("empty include restored", func(t *testing.T) {
		cfg, err := ParseReviewConfig([]byte("paths:\n  include: []\n"))
		if err != nil {
			t.Fatalf("ParseReviewConfig() failed: %v", err)
		}
		if len(cfg.Paths.Include) != 1 || cfg.Paths.Include[0] != "**/*" {
			t.Errorf("Expected include restored to ['**/*'], got %v", cfg.Paths.Include)
		}
	})
}

// TestReviewConfig_MapRoundTrip tests caching the config on the repository row
func TestReviewConfig_MapRoundTrip(t *testing.T) {
	cfg, err := ParseReviewConfig([]byte("max_files: 30\nmodel: claude-sonnet-4-5\nauto_review: false"))
	if err != nil {
		t.Fatalf("ParseReviewConfig() failed: %v", err)
	}

	m, err := cfg.ToMap()
	if err != nil {
		t.Fatalf("ToMap() failed: %v", err)
	}

	restored, err := ReviewConfigFromMap(m)
	if err != nil {
		t.Fatalf("ReviewConfigFromMap() failed: %v", err)
	}

	if restored.MaxFiles != 30 {
		t.Errorf("Expected max_files 30 after round trip, got %d", restored.MaxFiles)
	}
	if restored.Model != "claude-sonnet-4-5" {
		t.Errorf("Expected model to survive round trip, got '%s'", restored.Model)
	}
	if restored.AutoReview {
		t.Error("Expected auto_review false after round trip")
	}
}
