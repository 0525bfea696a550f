package orchestrator

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/rancher/backport-action/internal/github"
)

// PublishInput describes the backport pull request to open. Blank Title and Body
// fall back to DefaultTitle and DefaultBody.
type PublishInput struct {
	Number int
	Head   string
	Base   string
	Title  string
	Body   string
}

// DefaultTitle is the title of a backport of pull request number onto base.
func DefaultTitle(number int, base string) string {
	return fmt.Sprintf("Backport #%d on %s", number, base)
}

// DefaultBody is the body of a backport of pull request number.
func DefaultBody(number int) string {
	return fmt.Sprintf("Backport #%d.", number)
}

// Publisher opens the backport pull request.
type Publisher struct {
	client gh.Client
}

// NewPublisher returns a publisher writing through client.
func NewPublisher(client gh.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish opens a pull request from in.Head onto in.Base.
func (p *Publisher) Publish(ctx context.Context, owner, repo string, in PublishInput) (gh.BackportPR, error) {
	title := in.Title
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle(in.Number, in.Base)
	}
	body := in.Body
	if strings.TrimSpace(body) == "" {
		body = DefaultBody(in.Number)
	}

	pr, err := p.client.CreatePullRequest(ctx, owner, repo, gh.CreatePROptions{
		Title:               title,
		Body:                body,
		Head:                in.Head,
		Base:                in.Base,
		MaintainerCanModify: true,
	})
	if err != nil {
		return gh.BackportPR{}, &PublishError{Head: in.Head, Base: in.Base, Err: err}
	}

	if pr.Title == "" {
		pr.Title = title
	}
	if pr.Body == "" {
		pr.Body = body
	}
	return pr, nil
}
