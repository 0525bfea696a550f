package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gh "github.com/rancher/backport-action/internal/github"
	"github.com/rancher/backport-action/internal/labels"
)

const tracerName = "github.com/rancher/backport-action/internal/orchestrator"

// State is a step of a backport attempt.
type State string

const (
	StateFetching     State = "fetching"
	StateProvisioning State = "provisioning"
	StateReplaying    State = "replaying"
	StatePublishing   State = "publishing"
	StateDone         State = "done"
	StateRollingBack  State = "rolling_back"
	StateFailed       State = "failed"
)

// Request asks for pull request Number of Owner/Repo to be backported onto Base.
type Request struct {
	Owner  string
	Repo   string
	Number int
	Base   string
	Title  string
	Body   string
	// Head overrides the derived backport branch name.
	Head string
	// Intercept, when set, is called once after a failure that requires rollback
	// and before rollback runs. It observes the attempt and cannot change its course.
	Intercept func(context.Context, InterceptState)
}

// InterceptState is the view of a failing attempt handed to Request.Intercept.
type InterceptState struct {
	Branch      string
	Tip         string
	Replayed    []string
	CreatedRefs []string
	Cause       error
}

// Result describes a published backport.
type Result struct {
	Number  int
	URL     string
	Head    string
	Base    string
	Title   string
	Body    string
	Commits []string
}

// Orchestrator runs backport attempts. Each attempt either opens a pull request
// or leaves no reference it created behind.
type Orchestrator struct {
	client      gh.Client
	fetcher     *SequenceFetcher
	provisioner *Provisioner
	picker      *CherryPicker
	rollback    *RollbackCoordinator
	publisher   *Publisher
	tracer      trace.Tracer
	log         *slog.Logger
}

// New returns an Orchestrator whose components all use client.
func New(cfg Config, client gh.Client, logger *slog.Logger) *Orchestrator {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{
		client:      client,
		fetcher:     NewSequenceFetcher(client),
		provisioner: NewProvisioner(client, gh.BranchNamingOptions{Prefix: cfg.BranchPrefix}),
		picker:      NewCherryPicker(client, logger),
		rollback:    NewRollbackCoordinator(client, logger),
		publisher:   NewPublisher(client),
		tracer:      tracer,
		log:         logger,
	}
}

// Backport runs one attempt. Cancelling ctx stops the attempt only before the
// backport branch exists; afterwards it always finishes or rolls back.
func (o *Orchestrator) Backport(ctx context.Context, req Request) (Result, error) {
	if o.client == nil {
		return Result{}, fmt.Errorf("github client is required")
	}
	req.Base = labels.NormalizeBranch(req.Base)
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	ctx, span := o.tracer.Start(ctx, "backport", trace.WithAttributes(
		attribute.String("repository", req.Owner+"/"+req.Repo),
		attribute.Int("pull_request", req.Number),
		attribute.String("base", req.Base),
	))
	defer span.End()

	a := &attempt{o: o, req: req, span: span}
	result, err := a.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("backport.number", result.Number))
	return result, nil
}

func (r Request) validate() error {
	switch {
	case r.Owner == "" || r.Repo == "":
		return errors.New("owner and repo are required")
	case r.Number <= 0:
		return fmt.Errorf("invalid pull request number %d", r.Number)
	case r.Base == "":
		return errors.New("base branch is required")
	}
	return nil
}

type attempt struct {
	o     *Orchestrator
	req   Request
	span  trace.Span
	state State
}

func (a *attempt) transition(next State) {
	a.state = next
	a.span.AddEvent(string(next))
	if a.o.log != nil {
		a.o.log.Debug("backport state", "state", next, "repository", a.req.Owner+"/"+a.req.Repo, "number", a.req.Number, "base", a.req.Base)
	}
}

func (a *attempt) run(ctx context.Context) (Result, error) {
	o, req := a.o, a.req

	a.transition(StateFetching)
	commits, err := o.fetcher.Fetch(ctx, req.Owner, req.Repo, req.Number)
	if err != nil {
		a.transition(StateFailed)
		return Result{}, err
	}

	a.transition(StateProvisioning)
	replay, err := o.provisioner.Provision(ctx, req.Owner, req.Repo, req.Number, req.Base, req.Head)
	if err != nil {
		a.transition(StateFailed)
		return Result{}, err
	}

	// The branch exists from here on; the attempt must reach done or roll back.
	ctx = context.WithoutCancel(ctx)

	a.transition(StateReplaying)
	if err := o.picker.Replay(ctx, req.Owner, req.Repo, replay, commits); err != nil {
		return Result{}, a.fail(ctx, replay, err)
	}
	if err := o.client.UpdateReference(ctx, req.Owner, req.Repo, replay.Branch, replay.Tip, false); err != nil {
		return Result{}, a.fail(ctx, replay, &TransientReplayError{Op: "advance branch", Index: -1, Err: err})
	}
	if err := a.releaseWorkspace(ctx, replay); err != nil {
		return Result{}, a.fail(ctx, replay, &TransientReplayError{Op: "delete merge workspace", Index: -1, Err: err})
	}

	a.transition(StatePublishing)
	pr, err := o.publisher.Publish(ctx, req.Owner, req.Repo, PublishInput{
		Number: req.Number,
		Head:   replay.Branch,
		Base:   req.Base,
		Title:  req.Title,
		Body:   req.Body,
	})
	if err != nil {
		return Result{}, a.fail(ctx, replay, err)
	}

	a.transition(StateDone)
	if o.log != nil {
		o.log.Info("created backport pull request", "repository", req.Owner+"/"+req.Repo, "source", req.Number, "base", req.Base, "head", replay.Branch, "pr_number", pr.Number, "pr_url", pr.URL, "commits", len(replay.Replayed))
	}

	return Result{
		Number:  pr.Number,
		URL:     pr.URL,
		Head:    replay.Branch,
		Base:    req.Base,
		Title:   pr.Title,
		Body:    pr.Body,
		Commits: append([]string(nil), replay.Replayed...),
	}, nil
}

// releaseWorkspace drops the merge workspace once the branch holds the replayed
// history. On failure the workspace stays in CreatedRefs so rollback retries it.
func (a *attempt) releaseWorkspace(ctx context.Context, replay *ReplayState) error {
	if replay.Workspace == "" {
		return nil
	}
	err := a.o.client.DeleteReference(ctx, a.req.Owner, a.req.Repo, replay.Workspace)
	if err != nil && !errors.Is(err, gh.ErrNotFound) {
		if a.o.log != nil {
			a.o.log.Warn("failed to delete merge workspace", "ref", replay.Workspace, "error", err)
		}
		return err
	}
	refs := replay.CreatedRefs[:0]
	for _, ref := range replay.CreatedRefs {
		if ref != replay.Workspace {
			refs = append(refs, ref)
		}
	}
	replay.CreatedRefs = refs
	replay.Workspace = ""
	return nil
}

// fail rolls the attempt back and returns the error to surface.
func (a *attempt) fail(ctx context.Context, replay *ReplayState, cause error) error {
	a.transition(StateRollingBack)

	if a.req.Intercept != nil {
		a.req.Intercept(ctx, InterceptState{
			Branch:      replay.Branch,
			Tip:         replay.Tip,
			Replayed:    append([]string(nil), replay.Replayed...),
			CreatedRefs: append([]string(nil), replay.CreatedRefs...),
			Cause:       cause,
		})
	}

	if err := a.o.rollback.Rollback(ctx, a.req.Owner, a.req.Repo, replay.CreatedRefs); err != nil {
		if a.o.log != nil {
			a.o.log.Warn("rollback incomplete", "refs", replay.CreatedRefs, "cause", cause, "error", err)
		}
		cause = &RollbackError{Cause: cause, Rollback: err}
	}

	a.transition(StateFailed)
	return cause
}
