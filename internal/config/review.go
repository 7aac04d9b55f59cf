// Package config provides configuration management for the application.
// This file handles the per-repository review configuration file fetched
// from the repository's default branch.
package config

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Limits applied when normalizing a repository configuration
const (
	MinReviewMaxFiles   = 1
	MaxReviewMaxFiles   = 200
	MaxContextFiles     = 5
	MaxContextFileBytes = 5000
)

// validReviewTriggers are the pull request actions review_on may contain
var validReviewTriggers = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// PathsConfig holds include and exclude glob patterns
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// RulesConfig selects which review rule categories are enabled
type RulesConfig struct {
	Security      bool `yaml:"security" json:"security"`
	Performance   bool `yaml:"performance" json:"performance"`
	Style         bool `yaml:"style" json:"style"`
	Bugs          bool `yaml:"bugs" json:"bugs"`
	Documentation bool `yaml:"documentation" json:"documentation"`
	// Custom maps a rule name to its description
	Custom map[string]string `yaml:"custom" json:"custom,omitempty"`
}

// ReviewConfig is the per-repository configuration parsed from the config
// file at the repository's default branch.
type ReviewConfig struct {
	Paths        PathsConfig `yaml:"paths" json:"paths"`
	Rules        RulesConfig `yaml:"rules" json:"rules"`
	AutoReview   bool        `yaml:"auto_review" json:"auto_review"`
	ReviewOn     []string    `yaml:"review_on" json:"review_on"`
	MaxFiles     int         `yaml:"max_files" json:"max_files"`
	ContextFiles []string    `yaml:"context_files" json:"context_files,omitempty"`
	Model        string      `yaml:"model" json:"model,omitempty"`
	Languages    []string    `yaml:"languages" json:"languages,omitempty"`
	Frameworks   []string    `yaml:"frameworks" json:"frameworks,omitempty"`

	AdditionalInstructions string `yaml:"additional_instructions" json:"additional_instructions,omitempty"`
}

// DefaultReviewConfig returns the configuration used when a repository has
// no config file.
func DefaultReviewConfig() *ReviewConfig {
	return &ReviewConfig{
		Paths: PathsConfig{
			Include: []string{"**/*"},
			Exclude: []string{},
		},
		Rules: RulesConfig{
			Security:      true,
			Performance:   true,
			Style:         true,
			Bugs:          true,
			Documentation: false,
		},
		AutoReview: true,
		ReviewOn:   []string{"opened", "synchronize"},
		MaxFiles:   defaultMaxFilesPerReview,
	}
}

// ParseReviewConfig decodes and normalizes a repository config file. Fields
// absent from the file keep their defaults; invalid values are clamped
// rather than rejected so a malformed file degrades gracefully.
func ParseReviewConfig(data []byte) (*ReviewConfig, error) {
	cfg := DefaultReviewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize clamps out-of-range values and drops unknown triggers.
func (c *ReviewConfig) Normalize() {
	if c.MaxFiles < MinReviewMaxFiles {
		c.MaxFiles = MinReviewMaxFiles
	}
	if c.MaxFiles > MaxReviewMaxFiles {
		c.MaxFiles = MaxReviewMaxFiles
	}

	if len(c.ContextFiles) > MaxContextFiles {
		c.ContextFiles = c.ContextFiles[:MaxContextFiles]
	}

	var triggers []string
	for _, t := range c.ReviewOn {
		if validReviewTriggers[t] {
			triggers = append(triggers, t)
		}
	}
	c.ReviewOn = triggers

	if len(c.Paths.Include) == 0 {
		c.Paths.Include = []string{"**/*"}
	}
}

// ReviewsOn reports whether the given pull request action triggers a review.
func (c *ReviewConfig) ReviewsOn(action string) bool {
	for _, t := range c.ReviewOn {
		if t == action {
			return true
		}
	}
	return false
}

// ToMap converts the config to a generic map for caching on the
// repository row.
func (c *ReviewConfig) ToMap() (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ReviewConfigFromMap restores a cached config from the repository row.
func ReviewConfigFromMap(m map[string]interface{}) (*ReviewConfig, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	cfg := DefaultReviewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}
