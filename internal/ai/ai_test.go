package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

// fakeMessages returns a canned message or error and records the params.
type fakeMessages struct {
	lastParams anthropic.MessageNewParams
	reply      string
	err        error
}

func (f *fakeMessages) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.lastParams = body
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Text: f.reply}},
		Usage:   anthropic.Usage{InputTokens: 1200, OutputTokens: 340},
	}, nil
}

func newTestReviewer(fake *fakeMessages) *Reviewer {
	logger.Init(logger.Config{Level: "error", Format: "text"})
	return &Reviewer{
		messages:     fake,
		defaultModel: "claude-sonnet-4-5",
		maxTokens:    4096,
	}
}

// TestReviewer_Review tests a structured reply end to end
func TestReviewer_Review(t *testing.T) {
	fake := &fakeMessages{reply: `{
		"summary": "Small safe change.",
		"risk_level": "low",
		"comments": [
			{"file": "a.go", "line": 12, "severity": "warning", "category": "bugs", "message": "error ignored"}
		]
	}`}
	reviewer := newTestReviewer(fake)

	result, err := reviewer.Review(context.Background(), Request{
		DiffText: "diff --git a/a.go b/a.go",
		PRTitle:  "Fix handler",
		Config:   config.DefaultReviewConfig(),
	})
	if err != nil {
		t.Fatalf("Review() failed: %v", err)
	}

	if result.Summary != "Small safe change." || result.RiskLevel != "low" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if len(result.Comments) != 1 || result.Comments[0].File != "a.go" {
		t.Errorf("Unexpected comments: %+v", result.Comments)
	}
	if result.InputTokens != 1200 || result.OutputTokens != 340 {
		t.Errorf("Unexpected usage: %d/%d", result.InputTokens, result.OutputTokens)
	}
	if result.Model != "claude-sonnet-4-5" {
		t.Errorf("Unexpected model '%s'", result.Model)
	}

	// The request carried the default model and token ceiling
	if string(fake.lastParams.Model) != "claude-sonnet-4-5" {
		t.Errorf("Unexpected request model '%s'", fake.lastParams.Model)
	}
	if fake.lastParams.MaxTokens != 4096 {
		t.Errorf("Unexpected max tokens %d", fake.lastParams.MaxTokens)
	}
}

// TestReviewer_ModelOverride tests the per-repository model override
func TestReviewer_ModelOverride(t *testing.T) {
	fake := &fakeMessages{reply: `{"summary": "ok", "risk_level": "low", "comments": []}`}
	reviewer := newTestReviewer(fake)

	result, err := reviewer.Review(context.Background(), Request{
		Model:  "claude-opus-4-1",
		Config: config.DefaultReviewConfig(),
	})
	if err != nil {
		t.Fatalf("Review() failed: %v", err)
	}
	if result.Model != "claude-opus-4-1" {
		t.Errorf("Expected override model, got '%s'", result.Model)
	}
	if string(fake.lastParams.Model) != "claude-opus-4-1" {
		t.Errorf("Expected request to carry the override, got '%s'", fake.lastParams.Model)
	}
}

// TestReviewer_EndpointError tests that endpoint failures are retryable
func TestReviewer_EndpointError(t *testing.T) {
	fake := &fakeMessages{err: errors.New(errors.ErrCodeInternal, "connection reset")}
	reviewer := newTestReviewer(fake)

	_, err := reviewer.Review(context.Background(), Request{Config: config.DefaultReviewConfig()})
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.HasCode(err, errors.ErrCodeAIError) {
		t.Errorf("Expected AI error code, got %v", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("Expected AI endpoint failure to be retryable")
	}
}

// TestParseResponse tests fence stripping and the degraded fallback
func TestParseResponse(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		result := parseResponse(`{"summary": "fine", "risk_level": "high", "comments": []}`)
		if result.Summary != "fine" || result.RiskLevel != "high" {
			t.Errorf("Unexpected result: %+v", result)
		}
	})

	t.Run("json fence", func(t *testing.T) {
		result := parseResponse("```json\n{\"summary\": \"fenced\", \"risk_level\": \"low\", \"comments\": []}\n```")
		if result.Summary != "fenced" {
			t.Errorf("Expected fence to be stripped, got %+v", result)
		}
	})

	t.Run("bare fence", func(t *testing.T) {
		result := parseResponse("```\n{\"summary\": \"bare\", \"risk_level\": \"low\", \"comments\": []}\n```")
		if result.Summary != "bare" {
			t.Errorf("Expected bare fence to be stripped, got %+v", result)
		}
	})

	t.Run("malformed reply degrades", func(t *testing.T) {
		result := parseResponse("The code looks mostly fine to me!")
		if result.RiskLevel != "medium" {
			t.Errorf("Expected medium risk fallback, got '%s'", result.RiskLevel)
		}
		if len(result.Comments) != 0 {
			t.Errorf("Expected no comments, got %d", len(result.Comments))
		}
		if !strings.Contains(result.Summary, "The code looks mostly fine") {
			t.Errorf("Expected raw excerpt in summary, got '%s'", result.Summary)
		}
	})

	t.Run("long malformed reply truncated", func(t *testing.T) {
		result := parseResponse(strings.Repeat("x", 2000))
		if len(result.Summary) > 600 {
			t.Errorf("Expected truncated excerpt, summary is %d bytes", len(result.Summary))
		}
		if !strings.HasSuffix(result.Summary, "...") {
			t.Error("Expected truncation marker")
		}
	})

	t.Run("invalid risk level normalized", func(t *testing.T) {
		result := parseResponse(`{"summary": "s", "risk_level": "catastrophic", "comments": []}`)
		if result.RiskLevel != "medium" {
			t.Errorf("Expected medium for unknown risk level, got '%s'", result.RiskLevel)
		}
	})

	t.Run("nil comments normalized", func(t *testing.T) {
		result := parseResponse(`{"summary": "s", "risk_level": "low"}`)
		if result.Comments == nil {
			t.Error("Expected non-nil comments slice")
		}
	})
}

// TestBuildSystemPrompt tests category enumeration and hints
func TestBuildSystemPrompt(t *testing.T) {
	cfg := config.DefaultReviewConfig()
	cfg.Rules.Documentation = false
	cfg.Rules.Custom = map[string]string{"naming": "enforce the team naming guide"}
	cfg.Languages = []string{"go"}
	cfg.Frameworks = []string{"gin"}
	cfg.AdditionalInstructions = "Focus on concurrency."

	prompt := buildSystemPrompt(cfg)

	for _, want := range []string{"security", "performance", "bugs", "naming", "enforce the team naming guide", "go", "gin", "Focus on concurrency."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected prompt to contain '%s'", want)
		}
	}
	if strings.Contains(prompt, "documentation:") {
		t.Error("Expected disabled category to be absent")
	}
}

// TestBuildUserPrompt tests diff and context packaging
func TestBuildUserPrompt(t *testing.T) {
	prompt := buildUserPrompt(Request{
		PRTitle:     "Add caching",
		PRBody:      "Introduces an LRU cache",
		DiffText:    "diff --git a/cache.go b/cache.go",
		ContextBlob: "=== go.mod ===\nmodule example.com/app",
	})

	for _, want := range []string{"Add caching", "Introduces an LRU cache", "```diff", "diff --git a/cache.go", "go.mod"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected user prompt to contain '%s'", want)
		}
	}
}
