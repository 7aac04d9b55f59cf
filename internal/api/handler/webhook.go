// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/procrasturbate/procrasturbate/internal/engine"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

// WebhookHandler receives GitHub webhook deliveries, validates their
// signature, and forwards them to the dispatcher.
type WebhookHandler struct {
	dispatcher *engine.Dispatcher
	secret     []byte
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(d *engine.Dispatcher, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{dispatcher: d, secret: []byte(webhookSecret)}
}

// HandleWebhook handles POST /webhooks/github. Deliveries with a missing
// or wrong signature are rejected before the body is interpreted.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	payload, err := github.ValidatePayload(c.Request, h.secret)
	if err != nil {
		logger.Warn("Webhook signature validation failed",
			zap.String("delivery", github.DeliveryID(c.Request)),
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    errors.ErrCodeWebhook,
			"message": "Invalid webhook signature",
		})
		return
	}

	eventType := github.WebHookType(c.Request)
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    errors.ErrCodeWebhook,
			"message": "Failed to parse webhook payload",
		})
		return
	}

	logger.Debug("Webhook received",
		zap.String("event", eventType),
		zap.String("delivery", github.DeliveryID(c.Request)),
	)

	ctx := c.Request.Context()
	switch ev := event.(type) {
	case *github.PullRequestEvent:
		err = h.dispatcher.HandlePullRequest(ctx, pullRequestEvent(ev))
		h.respond(c, http.StatusAccepted, "queued", eventType, err)
	case *github.IssueCommentEvent:
		err = h.dispatcher.HandleIssueComment(ctx, issueCommentEvent(ev))
		h.respond(c, http.StatusAccepted, "processed", eventType, err)
	case *github.PushEvent:
		err = h.dispatcher.HandlePush(pushEvent(ev))
		h.respond(c, http.StatusOK, "processed", eventType, err)
	case *github.InstallationEvent:
		err = h.handleInstallation(ev)
		h.respond(c, http.StatusOK, "processed", eventType, err)
	case *github.InstallationRepositoriesEvent:
		err = h.handleInstallationRepositories(ev)
		h.respond(c, http.StatusOK, "processed", eventType, err)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event": eventType})
	}
}

func (h *WebhookHandler) respond(c *gin.Context, status int, message, eventType string, err error) {
	if err != nil {
		logger.Error("Webhook handling failed",
			zap.String("event", eventType), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    errors.ErrCodeInternal,
			"message": "Failed to process event",
		})
		return
	}
	c.JSON(status, gin.H{"status": message, "event": eventType})
}

func (h *WebhookHandler) handleInstallation(ev *github.InstallationEvent) error {
	inst := ev.GetInstallation()
	m := h.dispatcher.Installations()
	switch ev.GetAction() {
	case "created":
		repos := make([]engine.RepoInfo, 0, len(ev.Repositories))
		for _, r := range ev.Repositories {
			repos = append(repos, engine.RepoInfo{
				GithubRepoID: r.GetID(),
				FullName:     r.GetFullName(),
			})
		}
		return m.Install(inst.GetID(), inst.GetAccount().GetLogin(),
			inst.GetAccount().GetType(), inst.GetAccount().GetID(), repos)
	case "deleted":
		return m.Uninstall(inst.GetID())
	case "suspend":
		return m.Suspend(inst.GetID())
	case "unsuspend":
		return m.Unsuspend(inst.GetID())
	}
	return nil
}

func (h *WebhookHandler) handleInstallationRepositories(ev *github.InstallationRepositoriesEvent) error {
	m := h.dispatcher.Installations()
	installationID := ev.GetInstallation().GetID()

	if len(ev.RepositoriesAdded) > 0 {
		repos := make([]engine.RepoInfo, 0, len(ev.RepositoriesAdded))
		for _, r := range ev.RepositoriesAdded {
			repos = append(repos, engine.RepoInfo{
				GithubRepoID: r.GetID(),
				FullName:     r.GetFullName(),
			})
		}
		if err := m.AddRepositories(installationID, repos); err != nil {
			return err
		}
	}
	if len(ev.RepositoriesRemoved) > 0 {
		ids := make([]int64, 0, len(ev.RepositoriesRemoved))
		for _, r := range ev.RepositoriesRemoved {
			ids = append(ids, r.GetID())
		}
		if err := m.RemoveRepositories(installationID, ids); err != nil {
			return err
		}
	}
	return nil
}

func pullRequestEvent(ev *github.PullRequestEvent) engine.PullRequestEvent {
	pr := ev.GetPullRequest()
	return engine.PullRequestEvent{
		Action:         ev.GetAction(),
		InstallationID: ev.GetInstallation().GetID(),
		RepoGithubID:   ev.GetRepo().GetID(),
		RepoFullName:   ev.GetRepo().GetFullName(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Author:         pr.GetUser().GetLogin(),
		HeadSHA:        pr.GetHead().GetSHA(),
		BaseSHA:        pr.GetBase().GetSHA(),
	}
}

func issueCommentEvent(ev *github.IssueCommentEvent) engine.IssueCommentEvent {
	return engine.IssueCommentEvent{
		Action:         ev.GetAction(),
		InstallationID: ev.GetInstallation().GetID(),
		RepoGithubID:   ev.GetRepo().GetID(),
		RepoFullName:   ev.GetRepo().GetFullName(),
		IssueNumber:    ev.GetIssue().GetNumber(),
		IsPullRequest:  ev.GetIssue().IsPullRequest(),
		CommentID:      ev.GetComment().GetID(),
		CommentBody:    ev.GetComment().GetBody(),
		Author:         ev.GetComment().GetUser().GetLogin(),
	}
}

func pushEvent(ev *github.PushEvent) engine.PushEvent {
	var modified []string
	for _, commit := range ev.Commits {
		modified = append(modified, commit.Added...)
		modified = append(modified, commit.Modified...)
	}
	return engine.PushEvent{
		RepoGithubID:  ev.GetRepo().GetID(),
		Ref:           ev.GetRef(),
		ModifiedFiles: modified,
	}
}
