package orchestrator_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rancher/backport-action/internal/git"
	gh "github.com/rancher/backport-action/internal/github"
	"github.com/rancher/backport-action/internal/orchestrator"
)

var _ = Describe("Backport", func() {
	var (
		ctx context.Context
		r   repoBuilder
	)

	BeforeEach(func() {
		ctx = context.Background()
		r = newRepo()
	})

	Context("with a feature merged into dev", func() {
		var (
			number  int
			initial string
		)

		BeforeEach(func() {
			initial = r.commit("", map[string]string{"file.txt": lines("initial", "initial", "initial")}, "initial")
			dev := r.commit(initial, map[string]string{"file.txt": lines("dev", "initial", "initial")}, "dev")
			first := r.commit(dev, map[string]string{"file.txt": lines("dev", "feature 1st", "initial")}, "feature 1st")
			second := r.commit(first, map[string]string{"file.txt": lines("dev", "feature 1st", "feature 2nd")}, "feature 2nd")
			r.branch("master", initial)
			r.branch("dev", dev)
			r.branch("feature", second)
			number = r.pull("dev", "feature")
		})

		It("replays the feature commits onto master and opens the pull request", func() {
			title := fmt.Sprintf("Backport #%d on master", number)
			body := fmt.Sprintf("Backport #%d.", number)

			result, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master", Title: title, Body: body,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Head).To(Equal(fmt.Sprintf("backport-%d-on-master", number)))
			Expect(result.Base).To(Equal("master"))
			Expect(result.Title).To(Equal(title))
			Expect(result.Body).To(Equal(body))
			Expect(result.Commits).To(HaveLen(2))

			Expect(r.messages(result.Head)).To(Equal([]string{"feature 2nd", "feature 1st", "initial"}))
			Expect(r.file(result.Commits[0])).To(Equal(lines("initial", "feature 1st", "initial")))
			Expect(r.file(result.Commits[1])).To(Equal(lines("initial", "feature 1st", "feature 2nd")))

			pulls := r.store.PullRequests()
			created := pulls[result.Number-1]
			Expect(created.Base).To(Equal("master"))
			Expect(created.Head).To(Equal(result.Head))
			Expect(created.Title).To(Equal(title))

			Expect(r.store.Branches()).To(ConsistOf("dev", "feature", "master", result.Head))
		})

		It("defaults the title and body", func() {
			result, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Title).To(Equal(fmt.Sprintf("Backport #%d on master", number)))
			Expect(result.Body).To(Equal(fmt.Sprintf("Backport #%d.", number)))
		})

		It("keeps the source author on replayed commits", func() {
			result, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
			})
			Expect(err).NotTo(HaveOccurred())

			history, err := r.store.Log(result.Head)
			Expect(err).NotTo(HaveOccurred())
			source, err := r.store.Log("feature")
			Expect(err).NotTo(HaveOccurred())
			Expect(history[0].Author.Name).To(Equal(source[0].Author.Name))
			Expect(history[0].Author.Date.Equal(source[0].Author.Date)).To(BeTrue())
			Expect(history[1].ParentSHAs).To(Equal([]string{initial}))
		})

		It("refuses to run twice for the same base", func() {
			o := orchestrator.New(orchestrator.Config{}, r.store, nil)
			req := orchestrator.Request{Owner: owner, Repo: repo, Number: number, Base: "master"}

			first, err := o.Backport(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			tip, err := r.store.ResolveReference(ctx, owner, repo, first.Head)
			Expect(err).NotTo(HaveOccurred())

			_, err = o.Backport(ctx, req)
			var conflict *orchestrator.ReferenceConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Name).To(Equal(first.Head))
			Expect(errors.Is(err, gh.ErrReferenceExists)).To(BeTrue())

			again, err := r.store.ResolveReference(ctx, owner, repo, first.Head)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(tip))
		})

		It("uses the configured branch prefix", func() {
			result, err := orchestrator.New(orchestrator.Config{BranchPrefix: "bp"}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "refs/heads/master",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Head).To(Equal(fmt.Sprintf("bp-%d-on-master", number)))
			Expect(result.Base).To(Equal("master"))
		})

		It("rolls back when a commit cannot be written", func() {
			r.store.InjectFault(git.OpCreateCommit, 1, gh.Retryable(errors.New("502 bad gateway")))

			var seen orchestrator.InterceptState
			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
				Intercept: func(_ context.Context, s orchestrator.InterceptState) { seen = s },
			})

			var transient *orchestrator.TransientReplayError
			Expect(errors.As(err, &transient)).To(BeTrue())
			Expect(transient.Index).To(Equal(1))
			Expect(transient.Op).To(Equal("create commit"))
			Expect(transient.Retryable()).To(BeTrue())

			Expect(seen.Replayed).To(HaveLen(1))
			Expect(seen.CreatedRefs).To(HaveLen(2))
			Expect(errors.Is(r.resolve(seen.Branch), gh.ErrNotFound)).To(BeTrue())
			Expect(r.store.Branches()).To(ConsistOf("dev", "feature", "master"))
		})

		It("rolls back when the pull request is rejected", func() {
			r.store.InjectFault(git.OpCreatePullRequest, 0, errors.New("validation failed"))

			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
			})

			var publish *orchestrator.PublishError
			Expect(errors.As(err, &publish)).To(BeTrue())
			Expect(publish.Base).To(Equal("master"))
			Expect(errors.Is(r.resolve(publish.Head), gh.ErrNotFound)).To(BeTrue())
			Expect(r.store.Branches()).To(ConsistOf("dev", "feature", "master"))
			Expect(r.store.PullRequests()).To(HaveLen(1))
		})

		It("rolls back when the merge workspace cannot be deleted", func() {
			r.store.InjectFault(git.OpDeleteReference, 0, errors.New("delete refused"))

			var seen orchestrator.InterceptState
			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
				Intercept: func(_ context.Context, s orchestrator.InterceptState) { seen = s },
			})

			var transient *orchestrator.TransientReplayError
			Expect(errors.As(err, &transient)).To(BeTrue())
			Expect(transient.Op).To(Equal("delete merge workspace"))
			Expect(transient.Index).To(Equal(-1))

			Expect(seen.Replayed).To(HaveLen(2))
			Expect(seen.CreatedRefs).To(HaveLen(2))
			Expect(r.store.Calls(git.OpDeleteReference)).To(Equal(3))
			Expect(r.store.Calls(git.OpCreatePullRequest)).To(BeZero())
			Expect(r.store.Branches()).To(ConsistOf("dev", "feature", "master"))
			Expect(r.store.PullRequests()).To(HaveLen(1))
		})

		It("reports the merge workspace when neither delete succeeds", func() {
			boom := errors.New("delete refused")
			r.store.InjectFault(git.OpDeleteReference, 0, boom)
			r.store.InjectFault(git.OpDeleteReference, 0, boom)

			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
			})

			var rollback *orchestrator.RollbackError
			Expect(errors.As(err, &rollback)).To(BeTrue())
			Expect(errors.Is(rollback.Rollback, boom)).To(BeTrue())

			head := fmt.Sprintf("backport-%d-on-master", number)
			Expect(errors.Is(r.resolve(head), gh.ErrNotFound)).To(BeTrue())
			Expect(r.store.Branches()).To(ConsistOf("dev", "feature", "master", HavePrefix(head+"-replay-")))
			Expect(r.store.PullRequests()).To(HaveLen(1))
		})

		It("finishes the attempt when the caller cancels after provisioning", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			client := &cancelAfterProvision{Client: r.store, cancel: cancel}

			result, err := orchestrator.New(orchestrator.Config{}, client, nil).Backport(cctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cctx.Err()).To(HaveOccurred())
			Expect(result.Commits).To(HaveLen(2))
		})

		It("records each state on the attempt span", func() {
			recorder := tracetest.NewSpanRecorder()
			provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

			_, err := orchestrator.New(orchestrator.Config{Tracer: provider.Tracer("test")}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
			})
			Expect(err).NotTo(HaveOccurred())

			spans := recorder.Ended()
			Expect(spans).To(HaveLen(1))
			var events []string
			for _, e := range spans[0].Events() {
				events = append(events, e.Name)
			}
			Expect(events).To(Equal([]string{"fetching", "provisioning", "replaying", "publishing", "done"}))
		})
	})

	Context("with three commits touching separate lines", func() {
		It("replays all of them in order onto a diverged base", func() {
			initial := r.commit("", map[string]string{"file.txt": lines("initial", "initial", "initial")}, "initial")
			release := r.commit(initial, map[string]string{
				"file.txt":    lines("initial", "initial", "initial"),
				"release.txt": "release\n",
			}, "release")
			one := r.commit(initial, map[string]string{"file.txt": lines("one", "initial", "initial")}, "one")
			two := r.commit(one, map[string]string{"file.txt": lines("one", "two", "initial")}, "two")
			three := r.commit(two, map[string]string{"file.txt": lines("one", "two", "three")}, "three")
			r.branch("master", initial)
			r.branch("release", release)
			r.branch("feature", three)
			number := r.pull("master", "feature")

			result, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "release",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.messages(result.Head)).To(Equal([]string{"three", "two", "one", "release", "initial"}))

			files, err := r.store.ReadFiles(result.Commits[2])
			Expect(err).NotTo(HaveOccurred())
			Expect(files).To(Equal(map[string]string{
				"file.txt":    lines("one", "two", "three"),
				"release.txt": "release\n",
			}))
		})
	})

	Context("with a change already present on the base", func() {
		It("still commits the empty change", func() {
			initial := r.commit("", map[string]string{"file.txt": lines("a", "b", "c")}, "initial")
			release := r.commit(initial, map[string]string{"file.txt": lines("a", "fixed", "c")}, "fix on release")
			fix := r.commit(initial, map[string]string{"file.txt": lines("a", "fixed", "c")}, "fix")
			r.branch("master", initial)
			r.branch("release", release)
			r.branch("feature", fix)
			number := r.pull("master", "feature")

			result, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "release",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Commits).To(HaveLen(1))
			Expect(r.messages(result.Head)).To(Equal([]string{"fix", "fix on release", "initial"}))
			Expect(r.file(result.Commits[0])).To(Equal(lines("a", "fixed", "c")))
		})
	})

	Context("with a feature conflicting with the base", func() {
		var number int

		BeforeEach(func() {
			initial := r.commit("", map[string]string{"file.txt": "initial\n"}, "initial")
			dev := r.commit(initial, map[string]string{"file.txt": "dev\n"}, "dev")
			feature := r.commit(initial, map[string]string{"file.txt": "feature\n"}, "feature")
			r.branch("master", initial)
			r.branch("dev", dev)
			r.branch("feature", feature)
			number = r.pull("master", "feature")
		})

		It("fails without leaving the branch behind", func() {
			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "dev",
			})
			Expect(err).To(MatchError(ContainSubstring("could not be cherry-picked")))

			var conflict *orchestrator.CherryPickConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Index).To(Equal(0))
			Expect(conflict.Paths).To(Equal([]string{"file.txt"}))
			Expect(conflict.Sequence).To(Equal([]string{conflict.Commit}))

			err = r.resolve(fmt.Sprintf("backport-%d-on-dev", number))
			Expect(errors.Is(err, gh.ErrNotFound)).To(BeTrue())
			Expect(r.store.Branches()).To(ConsistOf("dev", "feature", "master"))
			Expect(r.store.PullRequests()).To(HaveLen(1))
		})

		It("lets the intercept hook observe the branch before rollback", func() {
			const head = "custom-head"
			var (
				calls       int
				existed     bool
				createdRefs []string
			)

			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "dev", Head: head,
				Intercept: func(ctx context.Context, s orchestrator.InterceptState) {
					calls++
					existed = r.resolve(s.Branch) == nil
					createdRefs = s.CreatedRefs
					Expect(s.Cause).To(MatchError(ContainSubstring("could not be cherry-picked")))
				},
			})
			Expect(err).To(HaveOccurred())
			Expect(calls).To(Equal(1))
			Expect(existed).To(BeTrue())
			Expect(createdRefs).To(HaveLen(2))
			Expect(createdRefs[0]).To(Equal(head))
			Expect(createdRefs[1]).To(HavePrefix(head + "-replay-"))
			Expect(errors.Is(r.resolve(head), gh.ErrNotFound)).To(BeTrue())
		})

		It("reports a failed rollback as secondary to the conflict", func() {
			boom := errors.New("delete refused")
			r.store.InjectFault(git.OpDeleteReference, 0, boom)

			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "dev",
			})

			var rollback *orchestrator.RollbackError
			Expect(errors.As(err, &rollback)).To(BeTrue())
			Expect(errors.Is(rollback.Rollback, boom)).To(BeTrue())

			var conflict *orchestrator.CherryPickConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(errors.Is(err, boom)).To(BeFalse())

			Expect(r.store.Calls(git.OpDeleteReference)).To(Equal(2))
			Expect(errors.Is(r.resolve(fmt.Sprintf("backport-%d-on-dev", number)), gh.ErrNotFound)).To(BeTrue())
		})

		It("records the rollback states on the attempt span", func() {
			recorder := tracetest.NewSpanRecorder()
			provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

			_, err := orchestrator.New(orchestrator.Config{Tracer: provider.Tracer("test")}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "dev",
			})
			Expect(err).To(HaveOccurred())

			spans := recorder.Ended()
			Expect(spans).To(HaveLen(1))
			var events []string
			for _, e := range spans[0].Events() {
				if e.Name != "exception" {
					events = append(events, e.Name)
				}
			}
			Expect(events).To(Equal([]string{"fetching", "provisioning", "replaying", "rolling_back", "failed"}))
		})
	})

	Context("with invalid input", func() {
		var initial string

		BeforeEach(func() {
			initial = r.commit("", map[string]string{"file.txt": "initial\n"}, "initial")
			r.branch("master", initial)
		})

		It("reports a missing pull request", func() {
			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: 42, Base: "master",
			})
			var notFound *orchestrator.NotFoundError
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Kind).To(Equal("pull request"))
			Expect(r.store.Calls(git.OpCreateReference)).To(BeZero())
		})

		It("reports a missing base", func() {
			change := r.commit(initial, map[string]string{"file.txt": "change\n"}, "change")
			r.branch("feature", change)
			number := r.pull("master", "feature")

			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "release/v9",
			})
			var notFound *orchestrator.NotFoundError
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Kind).To(Equal("base branch"))
			Expect(r.store.Calls(git.OpCreateReference)).To(BeZero())
		})

		It("rejects pull requests containing merge commits", func() {
			side := r.commit(initial, map[string]string{"file.txt": "side\n"}, "side")
			main := r.commit(initial, map[string]string{"file.txt": "main\n"}, "main")
			merge, err := r.store.WriteCommit([]string{main, side}, map[string]string{"file.txt": "merged\n"}, "merge")
			Expect(err).NotTo(HaveOccurred())
			r.branch("feature", merge)
			number := r.pull("master", "feature")

			_, err = orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
			})
			var unsupported *orchestrator.UnsupportedHistoryError
			Expect(errors.As(err, &unsupported)).To(BeTrue())
			Expect(unsupported.Commit).To(Equal(merge))
			Expect(r.store.Calls(git.OpCreateReference)).To(BeZero())
		})

		It("reports a pull request without commits", func() {
			r.branch("empty", initial)
			number := r.pull("master", "empty")

			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master",
			})
			var notFound *orchestrator.NotFoundError
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})

		It("validates the request", func() {
			o := orchestrator.New(orchestrator.Config{}, r.store, nil)
			_, err := o.Backport(ctx, orchestrator.Request{Owner: owner, Repo: repo, Number: 0, Base: "master"})
			Expect(err).To(HaveOccurred())
			_, err = o.Backport(ctx, orchestrator.Request{Owner: owner, Repo: repo, Number: 1, Base: " "})
			Expect(err).To(HaveOccurred())
			_, err = o.Backport(ctx, orchestrator.Request{Number: 1, Base: "master"})
			Expect(err).To(HaveOccurred())
		})

		It("rejects an invalid head override", func() {
			change := r.commit(initial, map[string]string{"file.txt": "change\n"}, "change")
			r.branch("feature", change)
			number := r.pull("master", "feature")

			_, err := orchestrator.New(orchestrator.Config{}, r.store, nil).Backport(ctx, orchestrator.Request{
				Owner: owner, Repo: repo, Number: number, Base: "master", Head: "bad..name",
			})
			Expect(err).To(HaveOccurred())
			Expect(r.store.Calls(git.OpCreateReference)).To(BeZero())
		})
	})
})
