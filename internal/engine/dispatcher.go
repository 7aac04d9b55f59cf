package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/procrasturbate/procrasturbate/consts"
	"github.com/procrasturbate/procrasturbate/internal/command"
	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/scheduler"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/idgen"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

// Scheduler task names.
const (
	TaskReviewPullRequest = "review_pull_request"
	TaskHandleCommand     = "handle_command"
)

// reviewTaskPayload is the scheduler payload for a review run.
type reviewTaskPayload struct {
	ReviewID     string   `json:"review_id"`
	IncludePaths []string `json:"include_paths,omitempty"`
	SecurityOnly bool     `json:"security_only,omitempty"`
	SummaryOnly  bool     `json:"summary_only,omitempty"`
}

// commandTaskPayload is the scheduler payload for a comment command.
type commandTaskPayload struct {
	Event IssueCommentEvent `json:"event"`
}

// PullRequestEvent is the slice of a pull request webhook the dispatcher
// acts on.
type PullRequestEvent struct {
	Action         string
	InstallationID int64
	RepoGithubID   int64
	RepoFullName   string
	Number         int
	Title          string
	Author         string
	HeadSHA        string
	BaseSHA        string
}

// IssueCommentEvent is the slice of an issue comment webhook the
// dispatcher acts on.
type IssueCommentEvent struct {
	Action         string
	InstallationID int64
	RepoGithubID   int64
	RepoFullName   string
	IssueNumber    int
	IsPullRequest  bool
	CommentID      int64
	CommentBody    string
	Author         string
}

// PushEvent is the slice of a push webhook the dispatcher acts on.
type PushEvent struct {
	RepoGithubID  int64
	Ref           string
	ModifiedFiles []string
}

// Dispatcher routes webhook events: pull request activity becomes
// debounced review jobs, comments become commands, and installation
// events update the database synchronously.
type Dispatcher struct {
	store         store.Store
	sched         *scheduler.Scheduler
	engine        *Engine
	installations *Installations
	clients       ClientFactory
	parser        *command.Parser
	debounce      time.Duration
}

// NewDispatcher wires the dispatcher and registers its scheduler tasks.
func NewDispatcher(s store.Store, sched *scheduler.Scheduler, eng *Engine, installations *Installations, clients ClientFactory, triggers []string, debounce time.Duration) *Dispatcher {
	d := &Dispatcher{
		store:         s,
		sched:         sched,
		engine:        eng,
		installations: installations,
		clients:       clients,
		parser:        command.NewParser(triggers),
		debounce:      debounce,
	}
	sched.Register(TaskReviewPullRequest, d.runReviewTask)
	sched.Register(TaskHandleCommand, d.runCommandTask)
	return d
}

func (d *Dispatcher) runReviewTask(ctx context.Context, job *scheduler.Job) error {
	var p reviewTaskPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		logger.Error("Malformed review task payload", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	return d.engine.ReviewPullRequestWith(ctx, p.ReviewID, RunOptions{
		IncludePaths: p.IncludePaths,
		SecurityOnly: p.SecurityOnly,
		SummaryOnly:  p.SummaryOnly,
	})
}

// lockKey serializes all review work for one pull request.
func lockKey(repoFullName string, prNumber int) string {
	return fmt.Sprintf("pr:%s:%d", repoFullName, prNumber)
}

// HandlePullRequest schedules a debounced review for PR activity. Rapid
// pushes collapse onto one job keyed by the pull request. Eligibility
// gates run inside the engine so declined runs leave a skipped review
// behind and the webhook path stays free of host calls.
func (d *Dispatcher) HandlePullRequest(ctx context.Context, event PullRequestEvent) error {
	trigger, ok := prTrigger(event.Action)
	if !ok {
		return nil
	}

	repo, err := d.store.Repository().GetByGithubID(event.RepoGithubID)
	if err != nil {
		logger.Debug("Ignoring event for unknown repository",
			zap.String("repo", event.RepoFullName))
		return nil
	}

	return d.scheduleReview(repo, trigger, "", event, RunOptions{}, d.debounce)
}

// HandleIssueComment enqueues a bot command found in a new PR comment.
// Everything that talks to the host happens later on a worker; the
// webhook path only parses.
func (d *Dispatcher) HandleIssueComment(ctx context.Context, event IssueCommentEvent) error {
	if event.Action != "created" || !event.IsPullRequest {
		return nil
	}
	if d.parser.Parse(event.CommentBody) == nil {
		return nil
	}
	_, err := d.sched.Submit(TaskHandleCommand, commandTaskPayload{Event: event}, 0, "")
	return err
}

func (d *Dispatcher) runCommandTask(ctx context.Context, job *scheduler.Job) error {
	var p commandTaskPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		logger.Error("Malformed command task payload", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	return d.executeCommand(ctx, p.Event)
}

// executeCommand runs one comment command against the host.
func (d *Dispatcher) executeCommand(ctx context.Context, event IssueCommentEvent) error {
	cmd := d.parser.Parse(event.CommentBody)
	if cmd == nil {
		return nil
	}

	repo, err := d.store.Repository().GetByGithubID(event.RepoGithubID)
	if err != nil {
		return nil
	}
	installation, err := d.store.Installation().GetByID(repo.InstallationID)
	if err != nil || !installation.IsActive {
		return nil
	}

	owner, name := splitFullName(repo.FullName)
	client := d.clients(installation.GithubInstallationID)

	// Acknowledge that the command was seen
	if err := client.AddReaction(ctx, owner, name, event.CommentID, "eyes"); err != nil {
		logger.Debug("Failed to add reaction", zap.Error(err))
	}

	switch cmd.Type {
	case command.TypeReview:
		return d.commandReview(ctx, client, repo, event, RunOptions{IncludePaths: cmd.Args})
	case command.TypeSecurity:
		return d.commandReview(ctx, client, repo, event, RunOptions{IncludePaths: cmd.Args, SecurityOnly: true})
	case command.TypeExplain:
		return d.commandReview(ctx, client, repo, event, RunOptions{SummaryOnly: true})
	case command.TypeIgnore:
		return d.commandIgnore(ctx, client, repo, event)
	case command.TypeConfig:
		return d.commandConfig(ctx, client, repo, event)
	default:
		return client.CreateIssueComment(ctx, owner, name, event.IssueNumber, d.parser.HelpMessage())
	}
}

// commandReview schedules an immediate review run. Commands bypass the
// auto_review switch but every other gate still applies.
func (d *Dispatcher) commandReview(ctx context.Context, client HostClient, repo *model.Repository, event IssueCommentEvent, opts RunOptions) error {
	owner, name := splitFullName(repo.FullName)
	pr, err := client.GetPullRequest(ctx, owner, name, event.IssueNumber)
	if err != nil {
		return err
	}
	return d.scheduleReview(repo, model.TriggerCommand, event.Author, PullRequestEvent{
		Number:       event.IssueNumber,
		RepoFullName: repo.FullName,
		Title:        pr.Title,
		Author:       pr.Author,
		HeadSHA:      pr.HeadSHA,
		BaseSHA:      pr.BaseSHA,
	}, opts, 0)
}

// commandIgnore drops the pending review work for a pull request.
func (d *Dispatcher) commandIgnore(ctx context.Context, client HostClient, repo *model.Repository, event IssueCommentEvent) error {
	key := lockKey(repo.FullName, event.IssueNumber)
	cancelled := d.sched.CancelPending(key)
	d.supersedePending(repo.ID, event.IssueNumber, "Cancelled by ignore command")

	owner, name := splitFullName(repo.FullName)
	msg := "Okay, no review is pending for this pull request."
	if cancelled {
		msg = "Okay, the pending review for this pull request has been cancelled."
	}
	return client.CreateIssueComment(ctx, owner, name, event.IssueNumber, msg)
}

// commandConfig posts the effective review configuration as a comment.
func (d *Dispatcher) commandConfig(ctx context.Context, client HostClient, repo *model.Repository, event IssueCommentEvent) error {
	cfg := d.engine.configs.Load(ctx, client, repo)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	owner, name := splitFullName(repo.FullName)
	body := fmt.Sprintf("Effective configuration for `%s`:\n\n```yaml\n%s```", repo.FullName, data)
	return client.CreateIssueComment(ctx, owner, name, event.IssueNumber, body)
}

// scheduleReview creates the review row and submits its job. Any older
// pending review for the same pull request is superseded first.
func (d *Dispatcher) scheduleReview(repo *model.Repository, trigger model.ReviewTrigger, triggeredBy string, event PullRequestEvent, opts RunOptions, delay time.Duration) error {
	d.supersedePending(repo.ID, event.Number, "Superseded by newer commit "+shortSHA(event.HeadSHA))

	review := &model.Review{
		ID:           idgen.NewReviewID(),
		RepositoryID: repo.ID,
		PRNumber:     event.Number,
		PRTitle:      event.Title,
		PRAuthor:     event.Author,
		HeadSHA:      event.HeadSHA,
		BaseSHA:      event.BaseSHA,
		Status:       model.ReviewStatusPending,
		Trigger:      trigger,
		TriggeredBy:  triggeredBy,
	}
	if err := d.store.Review().Create(review); err != nil {
		return err
	}

	_, err := d.sched.Submit(TaskReviewPullRequest, reviewTaskPayload{
		ReviewID:     review.ID,
		IncludePaths: opts.IncludePaths,
		SecurityOnly: opts.SecurityOnly,
		SummaryOnly:  opts.SummaryOnly,
	}, delay, lockKey(repo.FullName, event.Number))
	if err != nil {
		return err
	}

	logger.Info("Review scheduled",
		zap.String("review_id", review.ID),
		zap.String("repo", repo.FullName),
		zap.Int("pr", event.Number),
		zap.String("trigger", string(trigger)),
		zap.Duration("delay", delay),
	)
	return nil
}

// supersedePending retires pending reviews for a pull request so only the
// newest run survives.
func (d *Dispatcher) supersedePending(repositoryID uint, prNumber int, reason string) {
	reviews, err := d.store.Review().ListByPR(repositoryID, prNumber)
	if err != nil {
		logger.Warn("Failed to list reviews for supersede", zap.Error(err))
		return
	}
	for i := range reviews {
		if reviews[i].Status != model.ReviewStatusPending {
			continue
		}
		if _, err := d.store.Review().MarkTerminal(reviews[i].ID, model.ReviewStatusSuperseded, reason); err != nil {
			logger.Warn("Failed to supersede review",
				zap.String("review_id", reviews[i].ID), zap.Error(err))
		}
	}
}

// HandlePush invalidates the cached repository config when a push to the
// default branch touches the config file.
func (d *Dispatcher) HandlePush(event PushEvent) error {
	repo, err := d.store.Repository().GetByGithubID(event.RepoGithubID)
	if err != nil {
		return nil
	}
	if event.Ref != "refs/heads/"+repo.DefaultBranch {
		return nil
	}
	for _, f := range event.ModifiedFiles {
		if f == consts.ConfigFileName {
			d.engine.configs.Invalidate(repo)
			logger.Info("Repository config cache invalidated",
				zap.String("repo", repo.FullName))
			break
		}
	}
	return nil
}

// prTrigger maps a pull request action to a review trigger.
func prTrigger(action string) (model.ReviewTrigger, bool) {
	switch action {
	case "opened":
		return model.TriggerPROpened, true
	case "synchronize":
		return model.TriggerPRSynchronize, true
	case "reopened":
		return model.TriggerPRReopened, true
	}
	return "", false
}

// Installations exposes the lifecycle manager for the webhook layer.
func (d *Dispatcher) Installations() *Installations {
	return d.installations
}
