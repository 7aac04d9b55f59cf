package githubapp

import (
	"context"
	"net/http"
	"time"

	gherrors "errors"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

const (
	defaultPerPage     = 100
	defaultHTTPTimeout = 30 * time.Second
)

// PullRequest carries the PR metadata the review pipeline needs.
type PullRequest struct {
	Number       int
	Title        string
	Body         string
	State        string
	Author       string
	HeadSHA      string
	HeadRef      string
	BaseSHA      string
	BaseRef      string
	ChangedFiles int
}

// ChangedFile is one entry of the PR file listing.
type ChangedFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
}

// ReviewComment is an inline comment attached to a posted review. Position
// is the diff-position within the file's unified diff.
type ReviewComment struct {
	Path     string
	Position int
	Body     string
}

// ReviewRequest describes a review to post on a pull request.
type ReviewRequest struct {
	CommitID string
	Body     string
	Event    string
	Comments []ReviewComment
}

// CheckRunOptions describes a check run create or update.
type CheckRunOptions struct {
	Name       string
	HeadSHA    string
	Status     string
	Conclusion string
	Title      string
	Summary    string
}

// Client is a per-installation authenticated hosting client. Tokens are
// fetched through the App JWT exchange and cached process-wide.
type Client struct {
	auth           *AppAuth
	cache          *TokenCache
	installationID int64
	baseURL        string
}

// NewClient creates a client scoped to one installation. baseURL is empty
// for public GitHub.
func NewClient(auth *AppAuth, cache *TokenCache, installationID int64, baseURL string) *Client {
	return &Client{
		auth:           auth,
		cache:          cache,
		installationID: installationID,
		baseURL:        baseURL,
	}
}

// newGithubClient wraps an HTTP client, pointing at the enterprise URL
// when one is configured.
func (c *Client) newGithubClient(httpClient *http.Client) (*github.Client, error) {
	if c.baseURL != "" {
		gh, err := github.NewClient(httpClient).WithEnterpriseURLs(c.baseURL, c.baseURL)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to create enterprise client", err)
		}
		return gh, nil
	}
	return github.NewClient(httpClient), nil
}

// token returns a valid installation token, exchanging a fresh app JWT
// when the cache misses.
func (c *Client) token(ctx context.Context) (string, error) {
	if token, ok := c.cache.Get(c.installationID); ok {
		return token, nil
	}

	appClient, err := c.newGithubClient(newAppHTTPClient(c.auth))
	if err != nil {
		return "", err
	}

	installationToken, _, err := appClient.Apps.CreateInstallationToken(ctx, c.installationID, nil)
	if err != nil {
		return "", classify(err)
	}

	token := installationToken.GetToken()
	expiresAt := installationToken.GetExpiresAt().Time
	c.cache.Set(c.installationID, token, expiresAt)

	logger.Debug("Minted installation token",
		zap.Int64("installation_id", c.installationID),
		zap.Time("expires_at", expiresAt),
	)
	return token, nil
}

// installationClient builds a client authenticated with the installation
// token.
func (c *Client) installationClient(ctx context.Context) (*github.Client, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = defaultHTTPTimeout
	return c.newGithubClient(httpClient)
}

// do runs fn with an authenticated client. A 401 invalidates the cached
// token and is retried once after re-authentication.
func (c *Client) do(ctx context.Context, fn func(gh *github.Client) error) error {
	gh, err := c.installationClient(ctx)
	if err != nil {
		return err
	}

	err = fn(gh)
	if err != nil && isUnauthorized(err) {
		logger.Warn("Installation token rejected, re-authenticating",
			zap.Int64("installation_id", c.installationID))
		c.cache.Invalidate(c.installationID)
		gh, authErr := c.installationClient(ctx)
		if authErr != nil {
			return authErr
		}
		err = fn(gh)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// GetPullRequest reads the PR metadata.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var result *PullRequest
	err := c.do(ctx, func(gh *github.Client) error {
		pr, _, err := gh.PullRequests.Get(ctx, owner, repo, number)
		if err != nil {
			return err
		}
		result = &PullRequest{
			Number:       pr.GetNumber(),
			Title:        pr.GetTitle(),
			Body:         pr.GetBody(),
			State:        pr.GetState(),
			Author:       pr.GetUser().GetLogin(),
			HeadSHA:      pr.GetHead().GetSHA(),
			HeadRef:      pr.GetHead().GetRef(),
			BaseSHA:      pr.GetBase().GetSHA(),
			BaseRef:      pr.GetBase().GetRef(),
			ChangedFiles: pr.GetChangedFiles(),
		}
		return nil
	})
	return result, err
}

// GetPullRequestDiff returns the raw unified diff text.
func (c *Client) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	var result string
	err := c.do(ctx, func(gh *github.Client) error {
		raw, _, err := gh.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
		if err != nil {
			return err
		}
		result = raw
		return nil
	})
	return result, err
}

// ListPullRequestFiles returns the full paginated file listing.
func (c *Client) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error) {
	var result []ChangedFile
	err := c.do(ctx, func(gh *github.Client) error {
		result = result[:0]
		opts := &github.ListOptions{PerPage: defaultPerPage}
		for {
			files, resp, err := gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			if err != nil {
				return err
			}
			for _, f := range files {
				result = append(result, ChangedFile{
					Filename:  f.GetFilename(),
					Status:    f.GetStatus(),
					Additions: f.GetAdditions(),
					Deletions: f.GetDeletions(),
				})
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return nil
	})
	return result, err
}

// GetFileContent returns the decoded file bytes at a ref.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	var result []byte
	err := c.do(ctx, func(gh *github.Client) error {
		content, _, _, err := gh.Repositories.GetContents(ctx, owner, repo, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		if err != nil {
			return err
		}
		if content == nil {
			return errors.New(errors.ErrCodeNotFound, "path is not a file: "+path)
		}
		decoded, err := content.GetContent()
		if err != nil {
			return err
		}
		result = []byte(decoded)
		return nil
	})
	return result, err
}

// CreateReview posts a review with optional inline comments. Returns the
// host review id.
func (c *Client) CreateReview(ctx context.Context, owner, repo string, number int, review ReviewRequest) (int64, error) {
	var result int64
	err := c.do(ctx, func(gh *github.Client) error {
		var comments []*github.DraftReviewComment
		for i := range review.Comments {
			rc := review.Comments[i]
			comments = append(comments, &github.DraftReviewComment{
				Path:     github.String(rc.Path),
				Position: github.Int(rc.Position),
				Body:     github.String(rc.Body),
			})
		}
		posted, _, err := gh.PullRequests.CreateReview(ctx, owner, repo, number,
			&github.PullRequestReviewRequest{
				CommitID: github.String(review.CommitID),
				Body:     github.String(review.Body),
				Event:    github.String(review.Event),
				Comments: comments,
			})
		if err != nil {
			return err
		}
		result = posted.GetID()
		return nil
	})
	return result, err
}

// CreateIssueComment posts a top-level comment on the PR conversation.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	return c.do(ctx, func(gh *github.Client) error {
		_, _, err := gh.Issues.CreateComment(ctx, owner, repo, number,
			&github.IssueComment{Body: github.String(body)})
		return err
	})
}

// AddReaction posts a reaction on an issue comment.
func (c *Client) AddReaction(ctx context.Context, owner, repo string, commentID int64, content string) error {
	return c.do(ctx, func(gh *github.Client) error {
		_, _, err := gh.Reactions.CreateIssueCommentReaction(ctx, owner, repo, commentID, content)
		return err
	})
}

// CreateCheckRun creates a commit status indicator. Returns the check run id.
func (c *Client) CreateCheckRun(ctx context.Context, owner, repo string, opts CheckRunOptions) (int64, error) {
	var result int64
	err := c.do(ctx, func(gh *github.Client) error {
		createOpts := github.CreateCheckRunOptions{
			Name:    opts.Name,
			HeadSHA: opts.HeadSHA,
		}
		if opts.Status != "" {
			createOpts.Status = github.String(opts.Status)
		}
		run, _, err := gh.Checks.CreateCheckRun(ctx, owner, repo, createOpts)
		if err != nil {
			return err
		}
		result = run.GetID()
		return nil
	})
	return result, err
}

// UpdateCheckRun transitions a check run's status and conclusion.
func (c *Client) UpdateCheckRun(ctx context.Context, owner, repo string, checkRunID int64, opts CheckRunOptions) error {
	return c.do(ctx, func(gh *github.Client) error {
		updateOpts := github.UpdateCheckRunOptions{
			Name: opts.Name,
		}
		if opts.Status != "" {
			updateOpts.Status = github.String(opts.Status)
		}
		if opts.Conclusion != "" {
			updateOpts.Conclusion = github.String(opts.Conclusion)
			updateOpts.CompletedAt = &github.Timestamp{Time: time.Now()}
		}
		if opts.Title != "" || opts.Summary != "" {
			updateOpts.Output = &github.CheckRunOutput{
				Title:   github.String(opts.Title),
				Summary: github.String(opts.Summary),
			}
		}
		_, _, err := gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, updateOpts)
		return err
	})
}

// isUnauthorized reports whether the hosting API rejected our credentials.
func isUnauthorized(err error) bool {
	var ghErr *github.ErrorResponse
	if gherrors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}

// classify maps hosting errors onto the retryability taxonomy: network
// failures and 5xx are transient, 401 is an auth failure, other 4xx are
// permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsAppError(err) {
		return err
	}

	var ghErr *github.ErrorResponse
	if gherrors.As(err, &ghErr) && ghErr.Response != nil {
		status := ghErr.Response.StatusCode
		switch {
		case status == http.StatusUnauthorized:
			return errors.Wrap(errors.ErrCodeHostAuth, "hosting authentication failed", err)
		case status >= 500:
			return errors.Wrap(errors.ErrCodeHostTransient, "hosting server error", err)
		default:
			return errors.Wrap(errors.ErrCodeHostPermanent, "hosting request rejected", err)
		}
	}

	var rateErr *github.RateLimitError
	if gherrors.As(err, &rateErr) {
		return errors.Wrap(errors.ErrCodeHostTransient, "hosting rate limit hit", err)
	}

	// Network-level failure
	return errors.Wrap(errors.ErrCodeHostTransient, "hosting request failed", err)
}
