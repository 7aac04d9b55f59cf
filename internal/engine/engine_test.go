package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/procrasturbate/procrasturbate/internal/ai"
	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/internal/githubapp"
	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

// testDiff adds one line to app.go. The added line is new-file line 2 at
// diff position 3.
const testDiff = `diff --git a/app.go b/app.go
--- a/app.go
+++ b/app.go
@@ -1,3 +1,4 @@
 package main
+import "fmt"

 func main() {}
`

// fakeHost is an in-memory HostClient recording everything posted.
type fakeHost struct {
	mu sync.Mutex

	pr            *githubapp.PullRequest
	laterHead     string // head SHA returned once prCalls exceeds laterHeadFrom
	laterHeadFrom int
	prCalls       int
	diff          string
	diffCalls     int
	files         map[string][]byte

	reviews      []githubapp.ReviewRequest
	comments     []string
	reactions    []string
	checkRuns    []githubapp.CheckRunOptions
	checkUpdates []githubapp.CheckRunOptions
}

func (f *fakeHost) GetPullRequest(ctx context.Context, owner, repo string, number int) (*githubapp.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prCalls++
	pr := *f.pr
	if f.laterHead != "" && f.prCalls > f.laterHeadFrom {
		pr.HeadSHA = f.laterHead
	}
	return &pr, nil
}

func (f *fakeHost) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffCalls++
	return f.diff, nil
}

func (f *fakeHost) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]githubapp.ChangedFile, error) {
	return nil, nil
}

func (f *fakeHost) GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.files[path]; ok {
		return data, nil
	}
	return nil, errors.New(errors.ErrCodeHostPermanent, "file not found")
}

func (f *fakeHost) CreateReview(ctx context.Context, owner, repo string, number int, review githubapp.ReviewRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, review)
	return 777, nil
}

func (f *fakeHost) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeHost) AddReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, content)
	return nil
}

func (f *fakeHost) CreateCheckRun(ctx context.Context, owner, repo string, opts githubapp.CheckRunOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkRuns = append(f.checkRuns, opts)
	return 555, nil
}

func (f *fakeHost) UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, opts githubapp.CheckRunOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkUpdates = append(f.checkUpdates, opts)
	return nil
}

// fakeReviewer returns a canned result and records the request.
type fakeReviewer struct {
	result  *ai.Result
	err     error
	calls   int
	lastReq ai.Request
}

func (f *fakeReviewer) Review(ctx context.Context, req ai.Request) (*ai.Result, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestEngine(s store.Store, host *fakeHost, reviewer *fakeReviewer) *Engine {
	logger.Init(logger.Config{Level: "error", Format: "text"})
	return New(s,
		func(installationID int64) HostClient { return host },
		reviewer,
		NewBudget(s, 300, 1500),
		config.ReviewDefaults{
			DefaultMonthlyBudgetCents: 10000,
			MaxFilesPerReview:         50,
			MaxDiffSizeBytes:          500000,
			EnableLineComments:        true,
		},
		nil,
	)
}

func openPR(headSHA string) *githubapp.PullRequest {
	return &githubapp.PullRequest{
		Number:  42,
		Title:   "Add feature",
		Body:    "Adds the feature",
		State:   "open",
		Author:  "octocat",
		HeadSHA: headSHA,
	}
}

// TestEngine_ReviewCompletes tests the full pipeline on a clean run
func TestEngine_ReviewCompletes(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	host := &fakeHost{pr: openPR(review.HeadSHA), diff: testDiff}
	reviewer := &fakeReviewer{result: &ai.Result{
		Summary:   "Adds an import.",
		RiskLevel: "low",
		Comments: []ai.Comment{
			{File: "app.go", Line: 2, Severity: "suggestion", Category: "style", Message: "Group imports"},
			{File: "app.go", Line: 99, Severity: "warning", Category: "bugs", Message: "Not in the diff"},
		},
		InputTokens:  1_000_000,
		OutputTokens: 100_000,
		Model:        "claude-sonnet-4-5",
	}}
	e := newTestEngine(s, host, reviewer)

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}

	got, err := s.Review().GetByID(review.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Status != model.ReviewStatusCompleted {
		t.Fatalf("Expected completed, got '%s' (%s)", got.Status, got.ErrorMessage)
	}
	if got.RiskLevel != "low" || got.FilesReviewed != 1 || got.CommentsPosted != 1 {
		t.Errorf("Unexpected outputs: risk=%s files=%d comments=%d",
			got.RiskLevel, got.FilesReviewed, got.CommentsPosted)
	}
	// 1M input at 300 c/M plus 100k output at 1500 c/M
	if got.CostCents != 450 {
		t.Errorf("Expected cost 450 cents, got %d", got.CostCents)
	}
	if got.GithubReviewID != 777 {
		t.Errorf("Expected posted review id recorded, got %d", got.GithubReviewID)
	}

	// The out-of-diff finding was dropped, the other landed on position 3
	if len(host.reviews) != 1 {
		t.Fatalf("Expected one posted review, got %d", len(host.reviews))
	}
	posted := host.reviews[0]
	if posted.Event != "COMMENT" || posted.CommitID != review.HeadSHA {
		t.Errorf("Unexpected review envelope: %+v", posted)
	}
	if len(posted.Comments) != 1 {
		t.Fatalf("Expected one inline comment, got %d", len(posted.Comments))
	}
	if posted.Comments[0].Path != "app.go" || posted.Comments[0].Position != 3 {
		t.Errorf("Unexpected comment placement: %+v", posted.Comments[0])
	}
	if !strings.Contains(posted.Comments[0].Body, "[SUGGESTION] **Style**: Group imports") {
		t.Errorf("Unexpected comment body: %s", posted.Comments[0].Body)
	}
	if !strings.Contains(posted.Body, "**Risk level:** low") {
		t.Errorf("Unexpected review body: %s", posted.Body)
	}

	// Usage accrued for the calendar month
	now := time.Now()
	usage, err := s.Usage().GetForMonth(installation.ID, now.Year(), int(now.Month()))
	if err != nil {
		t.Fatalf("GetForMonth() failed: %v", err)
	}
	if usage.TotalCostCents != 450 || usage.ReviewCount != 1 {
		t.Errorf("Unexpected usage: %+v", usage)
	}

	// Check run closed with success
	if len(host.checkUpdates) != 1 || host.checkUpdates[0].Conclusion != "success" {
		t.Errorf("Unexpected check run updates: %+v", host.checkUpdates)
	}

	// Persisted comments mirror the posted ones
	rows, err := s.Review().GetCommentsByReviewID(review.ID)
	if err != nil {
		t.Fatalf("GetCommentsByReviewID() failed: %v", err)
	}
	if len(rows) != 1 || rows[0].DiffPosition != 3 || rows[0].LineNumber != 2 {
		t.Errorf("Unexpected persisted comments: %+v", rows)
	}
}

// TestEngine_SupersededBeforeAI tests that a moved head retires the run
// before any model call
func TestEngine_SupersededBeforeAI(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	host := &fakeHost{pr: openPR("f00dfeedf00dfeedf00dfeedf00dfeedf00dfeed"), diff: testDiff}
	reviewer := &fakeReviewer{err: errors.New(errors.ErrCodeAIError, "should not be called")}
	e := newTestEngine(s, host, reviewer)

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}

	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusSuperseded {
		t.Fatalf("Expected superseded, got '%s'", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "Superseded by newer commit f00dfee") {
		t.Errorf("Unexpected message: %s", got.ErrorMessage)
	}
	if len(host.reviews) != 0 {
		t.Error("No review should have been posted")
	}
}

// TestEngine_SupersededAfterAI tests the second head check after the model
// call, with the check run cancelled
func TestEngine_SupersededAfterAI(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	host := &fakeHost{
		pr:            openPR(review.HeadSHA),
		laterHead:     "f00dfeedf00dfeedf00dfeedf00dfeedf00dfeed",
		laterHeadFrom: 2,
		diff:          testDiff,
	}
	reviewer := &fakeReviewer{result: &ai.Result{Summary: "ok", RiskLevel: "low", Comments: []ai.Comment{}}}
	e := newTestEngine(s, host, reviewer)

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}

	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusSuperseded {
		t.Fatalf("Expected superseded, got '%s'", got.Status)
	}
	if reviewer.calls != 1 {
		t.Errorf("Expected exactly one model call, got %d", reviewer.calls)
	}
	if len(host.reviews) != 0 {
		t.Error("No review should have been posted for a stale head")
	}
	if len(host.checkUpdates) != 1 || host.checkUpdates[0].Conclusion != "cancelled" {
		t.Errorf("Expected a cancelled check run, got %+v", host.checkUpdates)
	}
}

// TestEngine_HeadMovesDuringDiffFetch tests the final head check between
// diff retrieval and the model call; a moved head must not cost anything
func TestEngine_HeadMovesDuringDiffFetch(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	// First fetch sees the review head, the re-check before the model
	// call sees a newer one
	host := &fakeHost{
		pr:            openPR(review.HeadSHA),
		laterHead:     "f00dfeedf00dfeedf00dfeedf00dfeedf00dfeed",
		laterHeadFrom: 1,
		diff:          testDiff,
	}
	reviewer := &fakeReviewer{result: &ai.Result{Summary: "ok", RiskLevel: "low", Comments: []ai.Comment{}}}
	e := newTestEngine(s, host, reviewer)

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}

	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusSuperseded {
		t.Fatalf("Expected superseded, got '%s'", got.Status)
	}
	if reviewer.calls != 0 {
		t.Errorf("Model should not have been called for a stale head, got %d calls", reviewer.calls)
	}
	if len(host.reviews) != 0 {
		t.Error("No review should have been posted")
	}
}

// TestEngine_ChangedFilesLimit tests the file-count gate on PR metadata,
// one file either side of the limit
func TestEngine_ChangedFilesLimit(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)

	t.Run("one over skips before the diff fetch", func(t *testing.T) {
		review := store.CreateTestReview(t, s, repo.ID, func(r *model.Review) { r.PRNumber = 50 })
		pr := openPR(review.HeadSHA)
		pr.ChangedFiles = 51
		host := &fakeHost{pr: pr, diff: testDiff}
		reviewer := &fakeReviewer{result: &ai.Result{Summary: "ok", RiskLevel: "low"}}
		e := newTestEngine(s, host, reviewer)

		if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
			t.Fatalf("ReviewPullRequest() failed: %v", err)
		}
		got, _ := s.Review().GetByID(review.ID)
		if got.Status != model.ReviewStatusSkipped {
			t.Fatalf("Expected skipped, got '%s' (%s)", got.Status, got.ErrorMessage)
		}
		if host.diffCalls != 0 {
			t.Errorf("Diff should not be fetched past the gate, got %d fetches", host.diffCalls)
		}
		if reviewer.calls != 0 {
			t.Errorf("Model should not be called past the gate, got %d calls", reviewer.calls)
		}
		if len(host.comments) != 1 || !strings.Contains(host.comments[0], "changes 51 files") {
			t.Errorf("Unexpected comments: %v", host.comments)
		}
	})

	t.Run("exactly at the limit proceeds", func(t *testing.T) {
		review := store.CreateTestReview(t, s, repo.ID, func(r *model.Review) { r.PRNumber = 51 })
		pr := openPR(review.HeadSHA)
		pr.Number = 51
		pr.ChangedFiles = 50
		host := &fakeHost{pr: pr, diff: testDiff}
		reviewer := &fakeReviewer{result: &ai.Result{Summary: "ok", RiskLevel: "low"}}
		e := newTestEngine(s, host, reviewer)

		if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
			t.Fatalf("ReviewPullRequest() failed: %v", err)
		}
		got, _ := s.Review().GetByID(review.ID)
		if got.Status != model.ReviewStatusCompleted {
			t.Fatalf("Expected completed, got '%s' (%s)", got.Status, got.ErrorMessage)
		}
	})
}

// TestEngine_BudgetExceeded tests the spend gate and its PR comment
func TestEngine_BudgetExceeded(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	now := time.Now()
	if err := s.Usage().AddUsage(installation.ID, now.Year(), int(now.Month()), store.UsageDelta{
		CostCents: 10000, Reviews: 20,
	}); err != nil {
		t.Fatalf("AddUsage() failed: %v", err)
	}

	host := &fakeHost{pr: openPR(review.HeadSHA), diff: testDiff}
	e := newTestEngine(s, host, &fakeReviewer{})

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}

	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusSkipped {
		t.Fatalf("Expected skipped, got '%s'", got.Status)
	}
	if len(host.comments) != 1 || host.comments[0] != "Monthly budget of $100.00 has been exceeded" {
		t.Errorf("Unexpected comments: %v", host.comments)
	}
}

// TestEngine_RepoBudgetOverride tests that a repository budget wins over
// the installation budget
func TestEngine_RepoBudgetOverride(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	lowBudget := 500
	repo := store.CreateTestRepository(t, s, installation.ID, func(r *model.Repository) {
		r.MonthlyBudgetCents = &lowBudget
	})
	review := store.CreateTestReview(t, s, repo.ID)

	now := time.Now()
	if err := s.Usage().AddUsage(installation.ID, now.Year(), int(now.Month()), store.UsageDelta{
		CostCents: 600,
	}); err != nil {
		t.Fatalf("AddUsage() failed: %v", err)
	}

	host := &fakeHost{pr: openPR(review.HeadSHA), diff: testDiff}
	e := newTestEngine(s, host, &fakeReviewer{})

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}

	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusSkipped {
		t.Fatalf("Expected skipped, got '%s'", got.Status)
	}
	if len(host.comments) != 1 || host.comments[0] != "Monthly budget of $5.00 has been exceeded" {
		t.Errorf("Unexpected comments: %v", host.comments)
	}
}

// TestEngine_DisabledRepository tests the is_enabled gate
func TestEngine_DisabledRepository(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID, func(r *model.Repository) {
		r.IsEnabled = false
	})
	review := store.CreateTestReview(t, s, repo.ID)

	host := &fakeHost{pr: openPR(review.HeadSHA), diff: testDiff}
	e := newTestEngine(s, host, &fakeReviewer{})

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}

	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusSkipped {
		t.Fatalf("Expected skipped, got '%s'", got.Status)
	}
}

// TestEngine_AutoReviewOff tests that the repository switch skips
// automatic runs while comment-triggered runs still go through
func TestEngine_AutoReviewOff(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID, func(r *model.Repository) {
		r.AutoReview = false
	})

	auto := store.CreateTestReview(t, s, repo.ID)
	host := &fakeHost{pr: openPR(auto.HeadSHA), diff: testDiff}
	reviewer := &fakeReviewer{result: &ai.Result{Summary: "ok", RiskLevel: "low"}}
	e := newTestEngine(s, host, reviewer)

	if err := e.ReviewPullRequest(context.Background(), auto.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}
	got, _ := s.Review().GetByID(auto.ID)
	if got.Status != model.ReviewStatusSkipped {
		t.Fatalf("Expected skipped, got '%s'", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "Automatic review is disabled") {
		t.Errorf("Unexpected skip reason: %s", got.ErrorMessage)
	}
	if reviewer.calls != 0 {
		t.Errorf("Model should not have been called, got %d calls", reviewer.calls)
	}

	// A comment command on the same repository still reviews
	manual := store.CreateTestReview(t, s, repo.ID, func(r *model.Review) {
		r.PRNumber = 43
		r.Trigger = model.TriggerCommand
		r.TriggeredBy = "hubber"
	})
	host.pr = openPR(manual.HeadSHA)
	if err := e.ReviewPullRequest(context.Background(), manual.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}
	got, _ = s.Review().GetByID(manual.ID)
	if got.Status != model.ReviewStatusCompleted {
		t.Fatalf("Expected the command run to complete, got '%s' (%s)", got.Status, got.ErrorMessage)
	}
}

// TestEngine_TriggerNotConfigured tests the review_on gate from the
// repository config file
func TestEngine_TriggerNotConfigured(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID, func(r *model.Review) {
		r.Trigger = model.TriggerPRSynchronize
	})

	host := &fakeHost{
		pr:   openPR(review.HeadSHA),
		diff: testDiff,
		files: map[string][]byte{
			".aireviewer.yaml": []byte("review_on:\n  - opened\n"),
		},
	}
	reviewer := &fakeReviewer{result: &ai.Result{Summary: "ok", RiskLevel: "low"}}
	e := newTestEngine(s, host, reviewer)

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}
	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusSkipped {
		t.Fatalf("Expected skipped, got '%s'", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "synchronize") {
		t.Errorf("Unexpected skip reason: %s", got.ErrorMessage)
	}
	if reviewer.calls != 0 {
		t.Errorf("Model should not have been called, got %d calls", reviewer.calls)
	}
}

// TestEngine_ReviewerReturnsNoResult tests that a reviewer yielding
// neither a result nor an error fails the review instead of crashing
func TestEngine_ReviewerReturnsNoResult(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	host := &fakeHost{pr: openPR(review.HeadSHA), diff: testDiff}
	e := newTestEngine(s, host, &fakeReviewer{})

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}
	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusFailed {
		t.Fatalf("Expected failed, got '%s'", got.Status)
	}
}

// TestEngine_NothingAfterFilter tests the empty-filter completion path
func TestEngine_NothingAfterFilter(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	host := &fakeHost{
		pr:   openPR(review.HeadSHA),
		diff: testDiff,
		files: map[string][]byte{
			".aireviewer.yaml": []byte("paths:\n  exclude:\n    - \"**/*.go\"\n"),
		},
	}
	e := newTestEngine(s, host, &fakeReviewer{})

	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("ReviewPullRequest() failed: %v", err)
	}

	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusCompleted {
		t.Fatalf("Expected completed, got '%s'", got.Status)
	}
	if got.Summary != "No files to review after applying path filters." {
		t.Errorf("Unexpected summary: %s", got.Summary)
	}
	if len(host.reviews) != 0 {
		t.Error("No review should have been posted")
	}
}

// TestEngine_RetryableFailureLeavesInProgress tests that a transient AI
// failure propagates for the scheduler to retry
func TestEngine_RetryableFailureLeavesInProgress(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	host := &fakeHost{pr: openPR(review.HeadSHA), diff: testDiff}
	reviewer := &fakeReviewer{err: errors.New(errors.ErrCodeAIRateLimit, "throttled")}
	e := newTestEngine(s, host, reviewer)

	err := e.ReviewPullRequest(context.Background(), review.ID)
	if err == nil {
		t.Fatal("Expected the retryable error to propagate")
	}
	if !errors.IsRetryable(err) {
		t.Errorf("Expected a retryable error, got %v", err)
	}

	got, _ := s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusInProgress {
		t.Errorf("Expected in_progress for the retry, got '%s'", got.Status)
	}

	// A second attempt resumes and finishes
	reviewer.err = nil
	reviewer.result = &ai.Result{Summary: "fine", RiskLevel: "low", Comments: []ai.Comment{}}
	if err := e.ReviewPullRequest(context.Background(), review.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	got, _ = s.Review().GetByID(review.ID)
	if got.Status != model.ReviewStatusCompleted {
		t.Errorf("Expected completed after retry, got '%s'", got.Status)
	}
}

// TestEngine_SecurityOnlyRun tests the rules narrowing from run options
func TestEngine_SecurityOnlyRun(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()

	installation := store.CreateTestInstallation(t, s)
	repo := store.CreateTestRepository(t, s, installation.ID)
	review := store.CreateTestReview(t, s, repo.ID)

	host := &fakeHost{pr: openPR(review.HeadSHA), diff: testDiff}
	reviewer := &fakeReviewer{result: &ai.Result{Summary: "ok", RiskLevel: "low", Comments: []ai.Comment{}}}
	e := newTestEngine(s, host, reviewer)

	err := e.ReviewPullRequestWith(context.Background(), review.ID, RunOptions{SecurityOnly: true})
	if err != nil {
		t.Fatalf("ReviewPullRequestWith() failed: %v", err)
	}

	cfg := reviewer.lastReq.Config
	if !cfg.Rules.Security || cfg.Rules.Style || cfg.Rules.Bugs || cfg.Rules.Performance {
		t.Errorf("Expected security-only rules, got %+v", cfg.Rules)
	}
}

// TestBudget tests cost conversion and limit resolution
func TestBudget(t *testing.T) {
	s, cleanup := store.SetupTestDB(t)
	defer cleanup()
	b := NewBudget(s, 300, 1500)

	t.Run("cost rounds down", func(t *testing.T) {
		if got := b.CostCents(1_000_000, 1_000_000); got != 1800 {
			t.Errorf("CostCents = %d, want 1800", got)
		}
		if got := b.CostCents(100, 100); got != 0 {
			t.Errorf("CostCents = %d, want 0 for tiny usage", got)
		}
	})

	t.Run("fractional cents sum before flooring", func(t *testing.T) {
		cheap := NewBudget(s, 1, 1)
		if got := cheap.CostCents(500_000, 500_000); got != 1 {
			t.Errorf("CostCents = %d, want 1 for two half-cent sides", got)
		}
	})

	t.Run("repository override wins", func(t *testing.T) {
		installation := &model.Installation{MonthlyBudgetCents: 10000}
		override := 2500
		repo := &model.Repository{MonthlyBudgetCents: &override}
		if got := b.EffectiveLimitCents(installation, repo); got != 2500 {
			t.Errorf("EffectiveLimitCents = %d, want 2500", got)
		}
		if got := b.EffectiveLimitCents(installation, &model.Repository{}); got != 10000 {
			t.Errorf("EffectiveLimitCents = %d, want 10000", got)
		}
	})

	t.Run("message formatting", func(t *testing.T) {
		if got := BudgetExceededMessage(12345); got != "Monthly budget of $123.45 has been exceeded" {
			t.Errorf("Unexpected message: %s", got)
		}
	})
}
