// Package ai implements the language-model client that produces review
// findings for a pull request diff.
package ai

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	goerrors "errors"

	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

// Comment is a single inline finding returned by the model.
type Comment struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	Severity     string `json:"severity"`
	Category     string `json:"category"`
	Message      string `json:"message"`
	SuggestedFix string `json:"suggested_fix,omitempty"`
}

// Request carries everything the model needs to review one diff.
type Request struct {
	DiffText    string
	PRTitle     string
	PRBody      string
	Config      *config.ReviewConfig
	ContextBlob string

	// Model overrides the default when the repository config names one
	Model     string
	MaxTokens int
}

// Result is the reviewer's structured output plus token accounting. The
// exact prompts sent are carried back for the review audit trail.
type Result struct {
	Summary      string    `json:"summary"`
	RiskLevel    string    `json:"risk_level"`
	Comments     []Comment `json:"comments"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"-"`
	UserPrompt   string    `json:"-"`
}

// messagesAPI is the slice of the SDK the reviewer uses, extracted so
// tests can substitute a fake.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Reviewer is a thin client over the model endpoint.
type Reviewer struct {
	messages     messagesAPI
	defaultModel string
	maxTokens    int
}

// NewReviewer creates a reviewer from the service AI configuration.
func NewReviewer(cfg config.AIConfig) *Reviewer {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Reviewer{
		messages:     &client.Messages,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokensPerReview,
	}
}

// Review sends one structured message exchange and parses the reply. A
// malformed model reply degrades to an empty-comment result rather than an
// error; endpoint failures propagate for the scheduler to retry.
func (r *Reviewer) Review(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = r.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = r.maxTokens
	}

	systemPrompt := buildSystemPrompt(req.Config)
	userPrompt := buildUserPrompt(req)

	start := time.Now()
	msg, err := r.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, classifyAIError(err)
	}

	if len(msg.Content) == 0 {
		return nil, errors.New(errors.ErrCodeAIError, "model returned an empty response")
	}

	result := parseResponse(msg.Content[0].Text)
	result.InputTokens = msg.Usage.InputTokens
	result.OutputTokens = msg.Usage.OutputTokens
	result.Model = model
	result.SystemPrompt = systemPrompt
	result.UserPrompt = userPrompt

	logger.Debug("AI review finished",
		zap.String("model", model),
		zap.Int64("input_tokens", result.InputTokens),
		zap.Int64("output_tokens", result.OutputTokens),
		zap.Int("comments", len(result.Comments)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// classifyAIError separates rate limiting from other endpoint failures.
// Both are retryable at the scheduler boundary.
func classifyAIError(err error) error {
	var apiErr *anthropic.Error
	if goerrors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return errors.Wrap(errors.ErrCodeAIRateLimit, "model endpoint rate limited", err)
		}
	}
	return errors.Wrap(errors.ErrCodeAIError, "model request failed", err)
}
