package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-github/v55/github"
)

// PullRequestAction enumerates actions we care about from pull_request events.
type PullRequestAction string

const (
	PullRequestActionClosed  PullRequestAction = "closed"
	PullRequestActionLabeled PullRequestAction = "labeled"
)

// PullRequestPayload captures the subset of GitHub pull_request event data used by the action.
type PullRequestPayload struct {
	Action      PullRequestAction
	Repository  Repository
	PullRequest PullRequest
	LabelName   string
}

// Repository identifies the owner/name of the repository where the event originated.
type Repository struct {
	Owner string
	Name  string
}

// PullRequest is the source pull request of a backport.
type PullRequest struct {
	Number         int
	Title          string
	Labels         []string
	Merged         bool
	MergeCommitSHA string
	BaseRef        string
	HeadRef        string
}

// Triggers reports whether the event should start backports: the pull request
// must be merged and the action must be closed or labeled.
func (p PullRequestPayload) Triggers() bool {
	if !p.PullRequest.Merged {
		return false
	}
	return p.Action == PullRequestActionClosed || p.Action == PullRequestActionLabeled
}

// ParsePullRequestEvent decodes a GitHub pull_request event payload from the provided reader.
func ParsePullRequestEvent(r io.Reader) (PullRequestPayload, error) {
	var raw github.PullRequestEvent
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return PullRequestPayload{}, fmt.Errorf("decode pull_request event: %w", err)
	}

	pr := raw.GetPullRequest()
	payload := PullRequestPayload{
		Action: PullRequestAction(strings.ToLower(strings.TrimSpace(raw.GetAction()))),
		Repository: Repository{
			Owner: strings.TrimSpace(raw.GetRepo().GetOwner().GetLogin()),
			Name:  strings.TrimSpace(raw.GetRepo().GetName()),
		},
		PullRequest: PullRequest{
			Number:         pr.GetNumber(),
			Title:          pr.GetTitle(),
			Merged:         pr.GetMerged(),
			MergeCommitSHA: strings.TrimSpace(pr.GetMergeCommitSHA()),
			BaseRef:        strings.TrimSpace(pr.GetBase().GetRef()),
			HeadRef:        strings.TrimSpace(pr.GetHead().GetRef()),
		},
		LabelName: strings.TrimSpace(raw.GetLabel().GetName()),
	}

	for _, l := range pr.Labels {
		if name := strings.TrimSpace(l.GetName()); name != "" {
			payload.PullRequest.Labels = append(payload.PullRequest.Labels, name)
		}
	}

	return payload, nil
}

// ParsePullRequestEventFile reads the event JSON from disk.
func ParsePullRequestEventFile(path string) (PullRequestPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return PullRequestPayload{}, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	return ParsePullRequestEvent(f)
}
