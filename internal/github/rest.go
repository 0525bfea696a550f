package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	github "github.com/google/go-github/v55/github"
	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
)

const defaultUserAgent = "rancher-backport-action"

const (
	commitCacheTTL     = 30 * time.Minute
	commitCacheCleanup = time.Hour
)

// NewRESTFactory returns a GitHub client factory backed by the go-github REST client. When
// base and upload URLs are provided, the factory targets a GitHub Enterprise instance.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		userAgent: defaultUserAgent,
		baseURL:   strings.TrimSpace(baseURL),
		uploadURL: strings.TrimSpace(uploadURL),
	}
}

type restFactory struct {
	userAgent string
	baseURL   string
	uploadURL string
}

// restClient talks to the REST API. Commit objects are immutable, so lookups are
// memoized per client in an expiring cache keyed by owner/repo@sha.
type restClient struct {
	client  *github.Client
	commits *cache.Cache
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if f.baseURL == "" && f.uploadURL != "" {
		return nil, fmt.Errorf("github upload url cannot be set without base url")
	}

	tc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	ghClient := github.NewClient(tc)
	if f.baseURL != "" {
		if f.uploadURL == "" {
			return nil, fmt.Errorf("github upload url must be provided when base url is set")
		}
		base, err := normalizeGitHubURL(f.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		upload, err := normalizeGitHubURL(f.uploadURL)
		if err != nil {
			return nil, fmt.Errorf("parse github upload url: %w", err)
		}
		ghClient, err = ghClient.WithEnterpriseURLs(base, upload)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
	}

	if f.userAgent != "" {
		ghClient.UserAgent = f.userAgent
	}

	return &restClient{
		client:  ghClient,
		commits: cache.New(commitCacheTTL, commitCacheCleanup),
	}, nil
}

func normalizeGitHubURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}

	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

func (c *restClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (PRMetadata, error) {
	pr, resp, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		if isNotFound(resp, err) {
			return PRMetadata{}, fmt.Errorf("get pull request #%d: %w", number, ErrNotFound)
		}
		return PRMetadata{}, fmt.Errorf("get pull request #%d: %w", number, classifyGitHubError(err))
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, label := range pr.Labels {
		if name := label.GetName(); name != "" {
			labels = append(labels, name)
		}
	}

	return PRMetadata{
		Owner:    owner,
		Repo:     repo,
		Number:   pr.GetNumber(),
		Title:    pr.GetTitle(),
		Body:     pr.GetBody(),
		State:    pr.GetState(),
		BaseRef:  pr.GetBase().GetRef(),
		HeadRef:  pr.GetHead().GetRef(),
		HeadSHA:  pr.GetHead().GetSHA(),
		MergeSHA: pr.GetMergeCommitSHA(),
		Labels:   labels,
		IsMerged: pr.GetMerged(),
	}, nil
}

func (c *restClient) ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]Commit, error) {
	opts := &github.ListOptions{PerPage: 100}

	var results []Commit
	for {
		commits, resp, err := c.client.PullRequests.ListCommits(ctx, owner, repo, number, opts)
		if err != nil {
			if isNotFound(resp, err) {
				return nil, fmt.Errorf("list commits of pull request #%d: %w", number, ErrNotFound)
			}
			return nil, fmt.Errorf("list commits of pull request #%d: %w", number, classifyGitHubError(err))
		}

		for _, rc := range commits {
			if rc == nil {
				continue
			}
			commit := fromRepositoryCommit(rc)
			c.commits.Set(c.cacheKey(owner, repo, commit.SHA), commit, cache.DefaultExpiration)
			results = append(results, commit)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return results, nil
}

func (c *restClient) CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (BackportPR, error) {
	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title:               github.String(input.Title),
		Head:                github.String(input.Head),
		Base:                github.String(input.Base),
		Body:                github.String(input.Body),
		Draft:               github.Bool(input.Draft),
		MaintainerCanModify: github.Bool(input.MaintainerCanModify),
	})
	if err != nil {
		return BackportPR{}, fmt.Errorf("create pull request: %w", classifyGitHubError(err))
	}

	return BackportPR{
		URL:    pr.GetHTMLURL(),
		Number: pr.GetNumber(),
		Head:   pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
	}, nil
}

func (c *restClient) CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	if _, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, comment); err != nil {
		return fmt.Errorf("create comment: %w", classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) cacheKey(owner, repo, sha string) string {
	return owner + "/" + repo + "@" + sha
}

func fromRepositoryCommit(rc *github.RepositoryCommit) Commit {
	parents := make([]string, 0, len(rc.Parents))
	for _, p := range rc.Parents {
		parents = append(parents, p.GetSHA())
	}
	inner := rc.GetCommit()
	return Commit{
		SHA:        rc.GetSHA(),
		ParentSHAs: parents,
		TreeSHA:    inner.GetTree().GetSHA(),
		Message:    inner.GetMessage(),
		Author:     fromCommitAuthor(inner.GetAuthor()),
		Committer:  fromCommitAuthor(inner.GetCommitter()),
	}
}

func fromGitCommit(gc *github.Commit) Commit {
	parents := make([]string, 0, len(gc.Parents))
	for _, p := range gc.Parents {
		parents = append(parents, p.GetSHA())
	}
	return Commit{
		SHA:        gc.GetSHA(),
		ParentSHAs: parents,
		TreeSHA:    gc.GetTree().GetSHA(),
		Message:    gc.GetMessage(),
		Author:     fromCommitAuthor(gc.GetAuthor()),
		Committer:  fromCommitAuthor(gc.GetCommitter()),
	}
}

func fromCommitAuthor(a *github.CommitAuthor) Signature {
	if a == nil {
		return Signature{}
	}
	return Signature{
		Name:  a.GetName(),
		Email: a.GetEmail(),
		Date:  a.GetDate().Time,
	}
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var githubErr *github.ErrorResponse
	if errors.As(err, &githubErr) {
		if githubErr.Response != nil && githubErr.Response.StatusCode == http.StatusNotFound {
			return true
		}
	}
	return false
}

// isUnprocessable reports a 422 response whose message contains fragment.
func isUnprocessable(err error, fragment string) bool {
	var githubErr *github.ErrorResponse
	if !errors.As(err, &githubErr) || githubErr.Response == nil {
		return false
	}
	if githubErr.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	return strings.Contains(strings.ToLower(githubErr.Message), strings.ToLower(fragment))
}

func isConflict(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusConflict {
		return true
	}
	var githubErr *github.ErrorResponse
	if errors.As(err, &githubErr) {
		return githubErr.Response != nil && githubErr.Response.StatusCode == http.StatusConflict
	}
	return false
}

func classifyGitHubError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableGitHubError(err) {
		return &retryableError{err: err}
	}
	return err
}

func isRetryableGitHubError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		if code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
