package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rancher/backport-action/internal/event"
	gh "github.com/rancher/backport-action/internal/github"
	"github.com/rancher/backport-action/internal/labels"
	"github.com/rancher/backport-action/internal/orchestrator"
)

// TargetStatus is the outcome of one base branch in an event run.
type TargetStatus string

const (
	TargetStatusSucceeded TargetStatus = "succeeded"
	TargetStatusFailed    TargetStatus = "failed"
	TargetStatusSkipped   TargetStatus = "skipped"
	TargetStatusDryRun    TargetStatus = "dry_run"
)

// TargetOutcome reports what happened to one target.
type TargetOutcome struct {
	Target labels.Target
	Status TargetStatus
	Reason string
	Result *orchestrator.Result
	Err    error
}

// Runner glues together configuration, the GitHub client and the orchestrator.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	ghFactory gh.Factory
}

// NewRunner constructs a Runner with the supplied configuration. Dry runs get a
// client that refuses every call.
func NewRunner(cfg Config) (*Runner, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	factory := gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL)
	if cfg.DryRun {
		factory = gh.NewNoopFactory()
	}

	return &Runner{cfg: cfg, log: logger, ghFactory: factory}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, ghFactory gh.Factory) *Runner {
	return &Runner{cfg: cfg, log: log, ghFactory: ghFactory}
}

func (r *Runner) orchestrator(client gh.Client) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Config{BranchPrefix: r.cfg.BranchPrefix}, client, r.log)
}

// RunBackport performs a single backport. In dry run mode it only reports the
// branch the backport would use.
func (r *Runner) RunBackport(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error) {
	if r.cfg.DryRun {
		base := labels.NormalizeBranch(req.Base)
		head := req.Head
		if head == "" {
			head = gh.BranchNameForBackport(base, req.Number, gh.BranchNamingOptions{Prefix: r.cfg.BranchPrefix})
		}
		if r.log != nil {
			r.log.Info("dry run: skipping backport", "repository", req.Owner+"/"+req.Repo, "number", req.Number, "base", base, "head", head)
		}
		return orchestrator.Result{Head: head, Base: base}, nil
	}

	client, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return orchestrator.Result{}, fmt.Errorf("initialize github client: %w", err)
	}
	return r.orchestrator(client).Backport(ctx, req)
}

// RunEvent handles the pull_request event GitHub Actions hands to the step.
func (r *Runner) RunEvent(ctx context.Context) error {
	if r.log != nil {
		r.log.Info("starting backport action run", "dry_run", r.cfg.DryRun, "concurrency", r.cfg.Concurrency)
	}

	eventName := strings.TrimSpace(os.Getenv("GITHUB_EVENT_NAME"))
	if eventName != "pull_request" && eventName != "pull_request_target" {
		if r.log != nil {
			r.log.Info("ignoring unsupported event", "event_name", eventName)
		}
		return nil
	}

	eventPath := strings.TrimSpace(os.Getenv("GITHUB_EVENT_PATH"))
	if eventPath == "" {
		return fmt.Errorf("GITHUB_EVENT_PATH is required for pull_request events")
	}

	payload, err := event.ParsePullRequestEventFile(eventPath)
	if err != nil {
		return fmt.Errorf("parse pull request event: %w", err)
	}

	if !payload.Triggers() {
		if r.log != nil {
			r.log.Info("ignoring pull request event", "action", payload.Action, "merged", payload.PullRequest.Merged)
		}
		return nil
	}

	if payload.Repository.Owner == "" || payload.Repository.Name == "" {
		return fmt.Errorf("event payload missing repository owner/name")
	}

	if payload.PullRequest.Number == 0 {
		return fmt.Errorf("event payload missing pull request number")
	}

	targets, err := r.selectTargets(payload)
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		if r.log != nil {
			r.log.Info("no backport targets", "number", payload.PullRequest.Number, "label_prefix", r.cfg.LabelPrefix)
		}
		r.report(nil)
		return nil
	}
	if r.log != nil {
		r.log.Info("backport targets", "number", payload.PullRequest.Number, "branches", labels.SortedBranches(targets))
	}

	var outcomes []TargetOutcome
	if r.cfg.DryRun {
		outcomes = r.planTargets(payload, targets)
	} else {
		client, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
		if err != nil {
			return fmt.Errorf("initialize github client: %w", err)
		}
		outcomes = r.backportTargets(ctx, client, payload, targets)
		if r.cfg.CommentOnFailure {
			r.commentFailures(ctx, client, payload, outcomes)
		}
	}

	r.report(outcomes)

	var failedTargets []string
	for _, o := range outcomes {
		if o.Status == TargetStatusFailed {
			failedTargets = append(failedTargets, o.Target.Branch)
		}
	}
	if len(failedTargets) > 0 {
		return fmt.Errorf("backport failed for %d target(s): %s", len(failedTargets), strings.Join(failedTargets, ", "))
	}

	return nil
}

// selectTargets picks the bases of this event. A labeled event only backports
// onto the label just added; manual targets are applied once, when the pull
// request closes.
func (r *Runner) selectTargets(payload event.PullRequestPayload) ([]labels.Target, error) {
	var targets []labels.Target
	if payload.Action == event.PullRequestActionLabeled {
		if t, ok := labels.TargetFromLabel(payload.LabelName, r.cfg.LabelPrefix); ok {
			targets = append(targets, t)
		}
	} else {
		fromLabels, err := labels.CollectTargets(payload.PullRequest.Labels, r.cfg.LabelPrefix)
		if err != nil {
			return nil, fmt.Errorf("collect label targets: %w", err)
		}
		targets = labels.MergeTargets(fromLabels, labels.TargetsFromBranches(r.cfg.TargetBranches))
	}

	if err := labels.ValidateTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func (r *Runner) planTargets(payload event.PullRequestPayload, targets []labels.Target) []TargetOutcome {
	outcomes := make([]TargetOutcome, 0, len(targets))
	for _, target := range targets {
		if skip, ok := skipTarget(payload, target); ok {
			outcomes = append(outcomes, skip)
			continue
		}
		head := gh.BranchNameForBackport(target.Branch, payload.PullRequest.Number, gh.BranchNamingOptions{Prefix: r.cfg.BranchPrefix})
		outcomes = append(outcomes, TargetOutcome{
			Target: target,
			Status: TargetStatusDryRun,
			Reason: fmt.Sprintf("would create %s", head),
		})
	}
	return outcomes
}

// backportTargets runs one independent attempt per target, at most
// cfg.Concurrency at a time, and returns outcomes in target order.
func (r *Runner) backportTargets(ctx context.Context, client gh.Client, payload event.PullRequestPayload, targets []labels.Target) []TargetOutcome {
	orch := r.orchestrator(client)
	outcomes := make([]TargetOutcome, len(targets))

	var g errgroup.Group
	g.SetLimit(max(r.cfg.Concurrency, 1))
	for i, target := range targets {
		if skip, ok := skipTarget(payload, target); ok {
			outcomes[i] = skip
			continue
		}
		g.Go(func() error {
			outcomes[i] = r.backportTarget(ctx, orch, payload, target)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (r *Runner) backportTarget(ctx context.Context, orch *orchestrator.Orchestrator, payload event.PullRequestPayload, target labels.Target) TargetOutcome {
	pr := payload.PullRequest
	result, err := orch.Backport(ctx, orchestrator.Request{
		Owner:  payload.Repository.Owner,
		Repo:   payload.Repository.Name,
		Number: pr.Number,
		Base:   target.Branch,
		Title:  backportTitle(pr, target),
		Body:   backportBody(payload, target),
	})
	if err != nil {
		if r.log != nil {
			r.log.Error("backport failed", "number", pr.Number, "base", target.Branch, "error", err)
		}
		return TargetOutcome{Target: target, Status: TargetStatusFailed, Reason: err.Error(), Err: err}
	}
	return TargetOutcome{Target: target, Status: TargetStatusSucceeded, Reason: "backport pull request created", Result: &result}
}

func skipTarget(payload event.PullRequestPayload, target labels.Target) (TargetOutcome, bool) {
	if target.Branch != payload.PullRequest.BaseRef {
		return TargetOutcome{}, false
	}
	return TargetOutcome{
		Target: target,
		Status: TargetStatusSkipped,
		Reason: "pull request was merged into this branch",
	}, true
}

func backportTitle(pr event.PullRequest, target labels.Target) string {
	if strings.TrimSpace(pr.Title) == "" {
		return ""
	}
	return fmt.Sprintf("[%s] %s", target.Branch, pr.Title)
}

func backportBody(payload event.PullRequestPayload, target labels.Target) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!-- backport-of: %s/%s#%d -> %s -->\n", payload.Repository.Owner, payload.Repository.Name, payload.PullRequest.Number, target.Branch)
	fmt.Fprintf(&b, "Backport of #%d onto `%s`.\n\n", payload.PullRequest.Number, target.Branch)
	b.WriteString("--\n")
	b.WriteString("Automated backport by rancher/backport-action.")
	return b.String()
}

func (r *Runner) commentFailures(ctx context.Context, client gh.Client, payload event.PullRequestPayload, outcomes []TargetOutcome) {
	for _, o := range outcomes {
		if o.Status != TargetStatusFailed {
			continue
		}
		body := failureComment(payload.PullRequest.Number, r.cfg.BranchPrefix, o)
		if err := client.CommentOnPullRequest(ctx, payload.Repository.Owner, payload.Repository.Name, payload.PullRequest.Number, body); err != nil && r.log != nil {
			r.log.Warn("failed to post pull request comment", "base", o.Target.Branch, "error", err)
		}
	}
}

func failureComment(number int, branchPrefix string, o TargetOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Automated backport of #%d onto `%s` failed.\n\n", number, o.Target.Branch)
	b.WriteString("```\n")
	b.WriteString(strings.TrimSpace(o.Reason))
	b.WriteString("\n```\n")

	var conflict *orchestrator.CherryPickConflictError
	if errors.As(o.Err, &conflict) {
		commits := conflict.Sequence
		if len(commits) == 0 {
			commits = []string{conflict.Commit}
		}
		head := gh.BranchNameForBackport(o.Target.Branch, number, gh.BranchNamingOptions{Prefix: branchPrefix})

		b.WriteString("\nPlease backport it manually, for example:\n\n```bash\n")
		fmt.Fprintf(&b, "git fetch origin %s pull/%d/head\n", o.Target.Branch, number)
		fmt.Fprintf(&b, "git switch --create %s origin/%s\n", head, o.Target.Branch)
		fmt.Fprintf(&b, "git cherry-pick -x %s\n", strings.Join(commits, " "))
		b.WriteString("```\n")
	}

	var rollback *orchestrator.RollbackError
	if errors.As(o.Err, &rollback) {
		b.WriteString("\nSome branches created by this attempt could not be removed and may need to be deleted by hand.\n")
	}

	return b.String()
}

func (r *Runner) report(outcomes []TargetOutcome) {
	if err := writeStepSummary(outcomes); err != nil && r.log != nil {
		r.log.Warn("failed to write step summary", "error", err)
	}
	if err := writeGitHubOutputs(outcomes); err != nil && r.log != nil {
		r.log.Warn("failed to write action outputs", "error", err)
	}
}
