// Package engine orchestrates review runs end to end: gating, diff
// retrieval, AI review, comment placement, and usage accounting.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/procrasturbate/procrasturbate/internal/ai"
	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/internal/diff"
	"github.com/procrasturbate/procrasturbate/internal/githubapp"
	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
	"github.com/procrasturbate/procrasturbate/pkg/telemetry"
)

// checkRunName is the check run shown on the pull request head commit.
const checkRunName = "Procrasturbate Review"

// Engine runs reviews against pull requests.
type Engine struct {
	store    store.Store
	clients  ClientFactory
	reviewer CodeReviewer
	configs  *ConfigLoader
	budget   *Budget
	defaults config.ReviewDefaults
	metrics  *telemetry.Metrics
}

// New creates the review engine.
func New(s store.Store, clients ClientFactory, reviewer CodeReviewer, budget *Budget, defaults config.ReviewDefaults, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		store:    s,
		clients:  clients,
		reviewer: reviewer,
		configs:  NewConfigLoader(s),
		budget:   budget,
		defaults: defaults,
		metrics:  metrics,
	}
}

// RunOptions narrow a review run beyond the repository configuration.
// They are set by comment commands.
type RunOptions struct {
	// IncludePaths replaces the configured include globs
	IncludePaths []string
	// SecurityOnly restricts the rules to the security category
	SecurityOnly bool
	// SummaryOnly suppresses inline comments
	SummaryOnly bool
}

// ReviewPullRequest executes one review run with the repository's own
// configuration.
func (e *Engine) ReviewPullRequest(ctx context.Context, reviewID string) error {
	return e.ReviewPullRequestWith(ctx, reviewID, RunOptions{})
}

// ReviewPullRequestWith executes one review run. It is safe to call again
// for the same review: terminal reviews are a no-op and an in-progress
// review is resumed, which is how scheduler retries re-enter the pipeline.
//
// A retryable error is returned to the caller with the review left
// in-progress; non-retryable failures mark the review failed and return
// nil so the scheduler does not retry them.
func (e *Engine) ReviewPullRequestWith(ctx context.Context, reviewID string, opts RunOptions) error {
	review, err := e.store.Review().GetByID(reviewID)
	if err != nil {
		logger.Warn("Review not found, dropping job", zap.String("review_id", reviewID))
		return nil
	}
	if review.Status.IsTerminal() {
		return nil
	}

	repo, err := e.store.Repository().GetByID(review.RepositoryID)
	if err != nil {
		return e.failPermanent(review, errors.Wrap(errors.ErrCodeDBQuery, "repository lookup failed", err))
	}
	installation, err := e.store.Installation().GetByID(repo.InstallationID)
	if err != nil {
		return e.failPermanent(review, errors.Wrap(errors.ErrCodeDBQuery, "installation lookup failed", err))
	}

	log := logger.WithReview(review.ID).With(
		zap.String("repo", repo.FullName),
		zap.Int("pr", review.PRNumber),
	)
	client := e.clients(installation.GithubInstallationID)
	owner, name := splitFullName(repo.FullName)

	// Eligibility gates
	if !installation.IsActive {
		return e.skip(review, nil, client, owner, name, "Installation is suspended")
	}
	if !repo.IsEnabled {
		return e.skip(review, nil, client, owner, name, "Reviews are disabled for this repository")
	}
	exceeded, limitCents, err := e.budget.Check(installation, repo, time.Now())
	if err != nil {
		return e.retryable(review, err)
	}
	if exceeded {
		msg := BudgetExceededMessage(limitCents)
		if err := client.CreateIssueComment(ctx, owner, name, review.PRNumber, msg); err != nil {
			log.Warn("Failed to post budget comment", zap.Error(err))
		}
		return e.skip(review, nil, client, owner, name, msg)
	}

	// Claim the run. A false return with a non-terminal status means a
	// previous attempt already moved this review to in-progress; resume it.
	claimed, err := e.store.Review().MarkInProgress(review.ID, time.Now())
	if err != nil {
		return e.retryable(review, err)
	}
	if !claimed && review.Status != model.ReviewStatusInProgress {
		return nil
	}
	if claimed {
		e.metrics.RecordReviewStarted(ctx, string(review.Trigger))
	}
	started := time.Now()

	cfg := e.configs.Load(ctx, client, repo)
	if len(opts.IncludePaths) > 0 {
		cfg.Paths.Include = normalizePathArgs(opts.IncludePaths)
	}
	if opts.SecurityOnly {
		cfg.Rules = config.RulesConfig{Security: true}
	}
	if snapshot, err := cfg.ToMap(); err == nil {
		if err := e.store.Review().UpdateConfigSnapshot(review.ID, snapshot); err != nil {
			log.Warn("Failed to snapshot config", zap.Error(err))
		}
	}

	// Automatic-trigger gates. Comment commands bypass them.
	if review.Trigger != model.TriggerCommand {
		if !repo.AutoReview || !cfg.AutoReview {
			return e.skip(review, nil, client, owner, name, "Automatic review is disabled for this repository")
		}
		if action, ok := triggerAction(review.Trigger); ok && !cfg.ReviewsOn(action) {
			return e.skip(review, nil, client, owner, name,
				fmt.Sprintf("Reviews are not configured for %s events", action))
		}
	}

	pr, err := client.GetPullRequest(ctx, owner, name, review.PRNumber)
	if err != nil {
		return e.handleError(review, client, owner, name, err)
	}
	if pr.State != "open" {
		return e.skip(review, nil, client, owner, name, "Pull request is no longer open")
	}
	if pr.HeadSHA != review.HeadSHA {
		return e.supersede(ctx, review, client, owner, name, pr.HeadSHA)
	}
	if pr.ChangedFiles > cfg.MaxFiles {
		msg := fmt.Sprintf("This pull request changes %d files, above the configured limit of %d. Review skipped.",
			pr.ChangedFiles, cfg.MaxFiles)
		if err := client.CreateIssueComment(ctx, owner, name, review.PRNumber, msg); err != nil {
			log.Warn("Failed to post file count comment", zap.Error(err))
		}
		return e.skip(review, nil, client, owner, name, "Too many files to review")
	}

	// The check run is best effort; reviews proceed without one
	checkRunID, err := client.CreateCheckRun(ctx, owner, name, githubapp.CheckRunOptions{
		Name:    checkRunName,
		HeadSHA: review.HeadSHA,
		Status:  "in_progress",
	})
	if err != nil {
		log.Warn("Failed to create check run", zap.Error(err))
	} else {
		review.GithubCheckRunID = checkRunID
		if err := e.store.Review().UpdateCheckRunID(review.ID, checkRunID); err != nil {
			log.Warn("Failed to record check run", zap.Error(err))
		}
	}

	diffText, err := client.GetPullRequestDiff(ctx, owner, name, review.PRNumber)
	if err != nil {
		return e.handleError(review, client, owner, name, err)
	}
	if e.defaults.MaxDiffSizeBytes > 0 && len(diffText) > e.defaults.MaxDiffSizeBytes {
		msg := fmt.Sprintf("This pull request's diff is %d bytes, above the %d byte review limit. Review skipped.",
			len(diffText), e.defaults.MaxDiffSizeBytes)
		if err := client.CreateIssueComment(ctx, owner, name, review.PRNumber, msg); err != nil {
			log.Warn("Failed to post size comment", zap.Error(err))
		}
		return e.skip(review, &started, client, owner, name, "Diff exceeds the size limit")
	}

	files := diff.Parse(diffText)
	filtered := diff.FilterFiles(files, cfg.Paths.Include, cfg.Paths.Exclude)
	if len(filtered) == 0 {
		return e.completeEmpty(review, client, owner, name, started)
	}

	contextBlob := e.loadContextFiles(ctx, client, owner, name, review.HeadSHA, cfg.ContextFiles)

	// Last head check before paying for the model call. The head may have
	// moved while the diff and context files were fetched.
	fresh, err := client.GetPullRequest(ctx, owner, name, review.PRNumber)
	if err != nil {
		return e.handleError(review, client, owner, name, err)
	}
	if fresh.HeadSHA != review.HeadSHA {
		return e.supersede(ctx, review, client, owner, name, fresh.HeadSHA)
	}

	aiStart := time.Now()
	result, err := e.reviewer.Review(ctx, ai.Request{
		DiffText:    diff.Format(filtered),
		PRTitle:     pr.Title,
		PRBody:      pr.Body,
		Config:      cfg,
		ContextBlob: contextBlob,
		Model:       cfg.Model,
	})
	e.metrics.RecordAICall(ctx, cfg.Model, err == nil, time.Since(aiStart).Seconds())
	if err != nil {
		return e.handleError(review, client, owner, name, err)
	}
	if result == nil {
		return e.handleError(review, client, owner, name,
			errors.New(errors.ErrCodeAIResponse, "reviewer returned no result"))
	}

	// The head may have moved while the model was thinking
	current, err := client.GetPullRequest(ctx, owner, name, review.PRNumber)
	if err != nil {
		return e.handleError(review, client, owner, name, err)
	}
	if current.HeadSHA != review.HeadSHA {
		return e.supersede(ctx, review, client, owner, name, current.HeadSHA)
	}

	index := diff.BuildIndex(filtered)
	lineComments := e.defaults.EnableLineComments && !opts.SummaryOnly
	inline, dbComments := e.placeComments(review.ID, result.Comments, index, lineComments)

	body := reviewBody(result, len(filtered), len(inline), e.budget.CostCents(result.InputTokens, result.OutputTokens))
	ghReviewID, err := client.CreateReview(ctx, owner, name, review.PRNumber, githubapp.ReviewRequest{
		CommitID: review.HeadSHA,
		Body:     body,
		Event:    "COMMENT",
		Comments: inline,
	})
	if err != nil {
		return e.handleError(review, client, owner, name, err)
	}

	if err := e.store.Review().CreateComments(dbComments); err != nil {
		log.Warn("Failed to persist review comments", zap.Error(err))
	}

	costCents := e.budget.CostCents(result.InputTokens, result.OutputTokens)
	err = e.store.Transaction(func(tx store.Store) error {
		if _, err := tx.Review().Complete(review.ID, store.CompletionResult{
			Summary:        result.Summary,
			RiskLevel:      result.RiskLevel,
			GithubReviewID: ghReviewID,
			FilesReviewed:  len(filtered),
			CommentsPosted: len(inline),
			InputTokens:    result.InputTokens,
			OutputTokens:   result.OutputTokens,
			CostCents:      costCents,
			Model:          result.Model,
			SystemPrompt:   result.SystemPrompt,
			UserPrompt:     result.UserPrompt,
		}); err != nil {
			return err
		}
		now := time.Now()
		return tx.Usage().AddUsage(installation.ID, now.Year(), int(now.Month()), store.UsageDelta{
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			CostCents:    costCents,
			Reviews:      1,
		})
	})
	if err != nil {
		return e.retryable(review, errors.Wrap(errors.ErrCodeDBQuery, "failed to finalize review", err))
	}

	e.updateCheckRun(ctx, client, owner, name, review, model.ReviewStatusCompleted,
		fmt.Sprintf("Reviewed %d files, %d comments", len(filtered), len(inline)), result.Summary)

	e.metrics.RecordReviewFinished(ctx, string(model.ReviewStatusCompleted), time.Since(started).Seconds())
	e.metrics.RecordUsage(ctx, result.InputTokens, result.OutputTokens, costCents)

	log.Info("Review completed",
		zap.String("risk", result.RiskLevel),
		zap.Int("files", len(filtered)),
		zap.Int("comments", len(inline)),
		zap.Int64("cost_cents", costCents),
	)
	return nil
}

// completeEmpty finishes a review whose filtered diff has nothing to send
// to the model.
func (e *Engine) completeEmpty(review *model.Review, client HostClient, owner, name string, started time.Time) error {
	ctx := context.Background()
	if _, err := e.store.Review().Complete(review.ID, store.CompletionResult{
		Summary:   "No files to review after applying path filters.",
		RiskLevel: "low",
	}); err != nil {
		return e.retryable(review, err)
	}
	e.updateCheckRun(ctx, client, owner, name, review, model.ReviewStatusCompleted,
		"Nothing to review", "No files to review after applying path filters.")
	e.metrics.RecordReviewFinished(ctx, string(model.ReviewStatusCompleted), time.Since(started).Seconds())
	return nil
}

// supersede retires a review whose head commit is no longer the PR head.
func (e *Engine) supersede(ctx context.Context, review *model.Review, client HostClient, owner, name, newHead string) error {
	msg := "Superseded by newer commit " + shortSHA(newHead)
	if _, err := e.store.Review().MarkTerminal(review.ID, model.ReviewStatusSuperseded, msg); err != nil {
		return e.retryable(review, err)
	}
	e.updateCheckRun(ctx, client, owner, name, review, model.ReviewStatusSuperseded, msg, "")
	e.metrics.RecordReviewFinished(ctx, string(model.ReviewStatusSuperseded), 0)
	logger.WithReview(review.ID).Info("Review superseded", zap.String("new_head", shortSHA(newHead)))
	return nil
}

// skip retires a review that failed an eligibility gate.
func (e *Engine) skip(review *model.Review, started *time.Time, client HostClient, owner, name, reason string) error {
	ctx := context.Background()
	if _, err := e.store.Review().MarkTerminal(review.ID, model.ReviewStatusSkipped, reason); err != nil {
		return e.retryable(review, err)
	}
	e.updateCheckRun(ctx, client, owner, name, review, model.ReviewStatusSkipped, reason, "")
	duration := 0.0
	if started != nil {
		duration = time.Since(*started).Seconds()
	}
	e.metrics.RecordReviewFinished(ctx, string(model.ReviewStatusSkipped), duration)
	logger.WithReview(review.ID).Info("Review skipped", zap.String("reason", reason))
	return nil
}

// handleError routes a pipeline failure: retryable errors propagate with
// the review left in-progress for the next attempt, permanent ones mark
// the review failed.
func (e *Engine) handleError(review *model.Review, client HostClient, owner, name string, err error) error {
	if errors.IsRetryable(err) {
		return e.retryable(review, err)
	}
	if _, terr := e.store.Review().MarkTerminal(review.ID, model.ReviewStatusFailed, err.Error()); terr != nil {
		logger.Error("Failed to mark review failed", zap.String("review_id", review.ID), zap.Error(terr))
	}
	e.updateCheckRun(context.Background(), client, owner, name, review, model.ReviewStatusFailed,
		"Review failed", err.Error())
	e.metrics.RecordReviewFinished(context.Background(), string(model.ReviewStatusFailed), 0)
	logger.WithReview(review.ID).Error("Review failed", zap.Error(err))
	return nil
}

func (e *Engine) retryable(review *model.Review, err error) error {
	logger.WithReview(review.ID).Warn("Review attempt failed, leaving for retry", zap.Error(err))
	return err
}

func (e *Engine) failPermanent(review *model.Review, err error) error {
	if _, terr := e.store.Review().MarkTerminal(review.ID, model.ReviewStatusFailed, err.Error()); terr != nil {
		logger.Error("Failed to mark review failed", zap.String("review_id", review.ID), zap.Error(terr))
	}
	logger.WithReview(review.ID).Error("Review failed", zap.Error(err))
	return nil
}

// updateCheckRun closes the check run for a terminal review. Best effort.
func (e *Engine) updateCheckRun(ctx context.Context, client HostClient, owner, name string, review *model.Review, status model.ReviewStatus, title, summary string) {
	if client == nil || review.GithubCheckRunID == 0 {
		return
	}
	err := client.UpdateCheckRun(ctx, owner, name, review.GithubCheckRunID, githubapp.CheckRunOptions{
		Name:       checkRunName,
		Status:     "completed",
		Conclusion: checkConclusion(status),
		Title:      title,
		Summary:    summary,
	})
	if err != nil {
		logger.Warn("Failed to update check run",
			zap.String("review_id", review.ID), zap.Error(err))
	}
}

// triggerAction maps an automatic review trigger back to the pull request
// action it came from, for matching against the review_on config list.
func triggerAction(trigger model.ReviewTrigger) (string, bool) {
	switch trigger {
	case model.TriggerPROpened:
		return "opened", true
	case model.TriggerPRSynchronize:
		return "synchronize", true
	case model.TriggerPRReopened:
		return "reopened", true
	}
	return "", false
}

// checkConclusion maps a terminal review status to a check run conclusion.
func checkConclusion(status model.ReviewStatus) string {
	switch status {
	case model.ReviewStatusCompleted:
		return "success"
	case model.ReviewStatusFailed:
		return "failure"
	case model.ReviewStatusSkipped:
		return "skipped"
	case model.ReviewStatusSuperseded:
		return "cancelled"
	}
	return "neutral"
}

// loadContextFiles fetches the configured context files at the review head.
// Missing files are skipped, oversized ones truncated.
func (e *Engine) loadContextFiles(ctx context.Context, client HostClient, owner, name, ref string, paths []string) string {
	var sb strings.Builder
	for _, path := range paths {
		data, err := client.GetFileContent(ctx, owner, name, path, ref)
		if err != nil {
			continue
		}
		if len(data) > config.MaxContextFileBytes {
			data = data[:config.MaxContextFileBytes]
		}
		sb.WriteString("=== ")
		sb.WriteString(path)
		sb.WriteString(" ===\n")
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// placeComments maps AI findings onto diff positions. Findings on lines
// that are not part of the diff are dropped.
func (e *Engine) placeComments(reviewID string, comments []ai.Comment, index diff.PositionIndex, lineComments bool) ([]githubapp.ReviewComment, []model.ReviewComment) {
	var inline []githubapp.ReviewComment
	var rows []model.ReviewComment
	for _, c := range comments {
		pos, ok := index.Lookup(c.File, c.Line)
		if !ok {
			logger.Debug("Dropping comment outside the diff",
				zap.String("file", c.File), zap.Int("line", c.Line))
			continue
		}
		if lineComments {
			inline = append(inline, githubapp.ReviewComment{
				Path:     c.File,
				Position: pos.DiffPosition,
				Body:     formatCommentBody(c),
			})
		}
		rows = append(rows, model.ReviewComment{
			ReviewID:     reviewID,
			FilePath:     c.File,
			LineNumber:   c.Line,
			DiffPosition: pos.DiffPosition,
			Severity:     commentSeverity(c.Severity),
			Category:     c.Category,
			Message:      c.Message,
			SuggestedFix: c.SuggestedFix,
		})
	}
	return inline, rows
}

// formatCommentBody renders one inline finding as markdown.
func formatCommentBody(c ai.Comment) string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(c.Severity))
	sb.WriteString("] **")
	sb.WriteString(capitalize(c.Category))
	sb.WriteString("**: ")
	sb.WriteString(c.Message)
	if c.SuggestedFix != "" {
		sb.WriteString("\n\n```suggestion\n")
		sb.WriteString(c.SuggestedFix)
		sb.WriteString("\n```")
	}
	return sb.String()
}

// reviewBody renders the top-level review summary.
func reviewBody(result *ai.Result, filesReviewed, commentsPosted int, costCents int64) string {
	var sb strings.Builder
	sb.WriteString("## Procrasturbate Review\n\n")
	sb.WriteString(result.Summary)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("**Risk level:** %s\n", result.RiskLevel))
	sb.WriteString(fmt.Sprintf("**Files reviewed:** %d\n", filesReviewed))
	sb.WriteString(fmt.Sprintf("**Inline comments:** %d\n", commentsPosted))
	sb.WriteString(fmt.Sprintf("**Cost:** $%.2f\n", float64(costCents)/100))
	return sb.String()
}

func commentSeverity(s string) model.CommentSeverity {
	switch model.CommentSeverity(strings.ToLower(s)) {
	case model.SeverityCritical, model.SeverityWarning, model.SeveritySuggestion,
		model.SeverityNitpick, model.SeverityPraise:
		return model.CommentSeverity(strings.ToLower(s))
	}
	return model.SeveritySuggestion
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// normalizePathArgs turns command arguments into glob patterns. A bare
// directory argument matches everything below it.
func normalizePathArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasSuffix(arg, "/") {
			arg += "**"
		}
		out = append(out, arg)
	}
	return out
}
