// Package git provides an in-memory, content-addressed repository that speaks
// the same object and pull request contract as the GitHub REST client. It backs
// the orchestrator and action tests with real git objects instead of stubs.
package git

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	gh "github.com/rancher/backport-action/internal/github"
)

// Operation names accepted by InjectFault, one per client method.
const (
	OpResolveReference       = "ResolveReference"
	OpCreateReference        = "CreateReference"
	OpUpdateReference        = "UpdateReference"
	OpDeleteReference        = "DeleteReference"
	OpGetCommit              = "GetCommit"
	OpComputeMerge           = "ComputeMerge"
	OpCreateCommit           = "CreateCommit"
	OpGetPullRequest         = "GetPullRequest"
	OpListPullRequestCommits = "ListPullRequestCommits"
	OpCreatePullRequest      = "CreatePullRequest"
	OpCommentOnPullRequest   = "CommentOnPullRequest"
)

// PullRequestSpec describes a source pull request opened directly in the store.
type PullRequestSpec struct {
	Base   string
	Head   string
	Title  string
	Body   string
	Labels []string
	Merged bool
}

// PullRequest is a pull request recorded by the store.
type PullRequest struct {
	Number   int
	Title    string
	Body     string
	Base     string
	Head     string
	Labels   []string
	Merged   bool
	Commits  []string
	Comments []string
}

type fault struct {
	skip int
	err  error
}

// MemoryStore is a single repository held in memory. Owner and repo arguments of
// the client methods are accepted but not interpreted. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	storage  *memory.Storage
	pulls    []*PullRequest
	faults   map[string][]*fault
	calls    map[string]int
	identity object.Signature
	now      func() time.Time
}

// NewMemoryStore returns an empty repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		storage: memory.NewStorage(),
		faults:  make(map[string][]*fault),
		calls:   make(map[string]int),
		identity: object.Signature{
			Name:  "backport-action",
			Email: "backport-action@users.noreply.github.com",
		},
		now: time.Now,
	}
}

// Factory returns a gh.Factory whose clients all operate on this store.
func (s *MemoryStore) Factory() gh.Factory {
	return storeFactory{store: s}
}

type storeFactory struct {
	store *MemoryStore
}

func (f storeFactory) New(ctx context.Context, token string) (gh.Client, error) {
	return f.store, nil
}

// InjectFault makes the call to op after skip successful calls fail once with err.
func (s *MemoryStore) InjectFault(op string, skip int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], &fault{skip: skip, err: err})
}

// Calls returns how many times op was invoked, including failed invocations.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records a call to op and returns an injected fault, if one is due.
// Callers hold s.mu.
func (s *MemoryStore) enter(op string) error {
	s.calls[op]++
	pending := s.faults[op]
	for i, f := range pending {
		if f.skip > 0 {
			f.skip--
			continue
		}
		s.faults[op] = append(pending[:i:i], pending[i+1:]...)
		return f.err
	}
	return nil
}

// WriteCommit stores a commit whose tree holds exactly files.
func (s *MemoryStore) WriteCommit(parents []string, files map[string]string, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := writeTree(s.storage, files)
	if err != nil {
		return "", err
	}

	parentHashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		h := plumbing.NewHash(p)
		if _, err := object.GetCommit(s.storage, h); err != nil {
			return "", fmt.Errorf("parent %s: %w", p, gh.ErrNotFound)
		}
		parentHashes = append(parentHashes, h)
	}

	sig := s.signature()
	hash, err := writeCommit(s.storage, &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parentHashes,
	})
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// SetBranch points branch at sha, creating or moving it.
func (s *MemoryStore) SetBranch(name, sha string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := plumbing.NewHash(sha)
	if _, err := object.GetCommit(s.storage, h); err != nil {
		return fmt.Errorf("commit %s: %w", sha, gh.ErrNotFound)
	}
	return s.storage.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), h))
}

// Branches returns every branch name, sorted.
func (s *MemoryStore) Branches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	iter, err := s.storage.IterReferences()
	if err != nil {
		return nil
	}
	_ = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsBranch() {
			names = append(names, ref.Name().Short())
		}
		return nil
	})
	sort.Strings(names)
	return names
}

// ReadFiles returns the files of the tree of commit sha.
func (s *MemoryStore) ReadFiles(sha string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := object.GetCommit(s.storage, plumbing.NewHash(sha))
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", sha, gh.ErrNotFound)
	}
	return readTree(s.storage, c.TreeHash)
}

// Log returns the first-parent history of branch, newest first.
func (s *MemoryStore) Log(branch string) ([]gh.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tip, err := s.resolve(branch)
	if err != nil {
		return nil, err
	}

	var history []gh.Commit
	for h := tip; !h.IsZero(); {
		c, err := object.GetCommit(s.storage, h)
		if err != nil {
			return nil, err
		}
		history = append(history, toCommit(c))
		h = plumbing.ZeroHash
		if len(c.ParentHashes) > 0 {
			h = c.ParentHashes[0]
		}
	}
	return history, nil
}

// OpenPullRequest records a pull request whose commits are those on the first-parent
// history of Head that Base cannot reach, oldest first. The set is captured now,
// so later branch moves or deletions do not change it.
func (s *MemoryStore) OpenPullRequest(spec PullRequestSpec) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commits, err := s.between(spec.Base, spec.Head)
	if err != nil {
		return 0, err
	}

	pr := &PullRequest{
		Number:  len(s.pulls) + 1,
		Title:   spec.Title,
		Body:    spec.Body,
		Base:    spec.Base,
		Head:    spec.Head,
		Labels:  append([]string(nil), spec.Labels...),
		Merged:  spec.Merged,
		Commits: commits,
	}
	s.pulls = append(s.pulls, pr)
	return pr.Number, nil
}

// PullRequests returns a copy of every recorded pull request, by number.
func (s *MemoryStore) PullRequests() []PullRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PullRequest, 0, len(s.pulls))
	for _, pr := range s.pulls {
		cp := *pr
		cp.Commits = append([]string(nil), pr.Commits...)
		cp.Comments = append([]string(nil), pr.Comments...)
		out = append(out, cp)
	}
	return out
}

func (s *MemoryStore) signature() object.Signature {
	sig := s.identity
	sig.When = s.now().UTC().Truncate(time.Second)
	return sig
}

func (s *MemoryStore) resolve(branch string) (plumbing.Hash, error) {
	ref, err := s.storage.Reference(plumbing.NewBranchReferenceName(branch))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, fmt.Errorf("ref %s: %w", branch, gh.ErrNotFound)
		}
		return plumbing.ZeroHash, err
	}
	return ref.Hash(), nil
}

func (s *MemoryStore) reachable(tip plumbing.Hash) (map[plumbing.Hash]struct{}, error) {
	seen := make(map[plumbing.Hash]struct{})
	queue := []plumbing.Hash{tip}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		c, err := object.GetCommit(s.storage, h)
		if err != nil {
			return nil, err
		}
		queue = append(queue, c.ParentHashes...)
	}
	return seen, nil
}

// between lists the first-parent commits of head not reachable from base, oldest first.
func (s *MemoryStore) between(base, head string) ([]string, error) {
	baseTip, err := s.resolve(base)
	if err != nil {
		return nil, err
	}
	headTip, err := s.resolve(head)
	if err != nil {
		return nil, err
	}
	known, err := s.reachable(baseTip)
	if err != nil {
		return nil, err
	}

	var commits []string
	for h := headTip; ; {
		if _, ok := known[h]; ok {
			break
		}
		c, err := object.GetCommit(s.storage, h)
		if err != nil {
			return nil, err
		}
		commits = append(commits, h.String())
		if len(c.ParentHashes) == 0 {
			break
		}
		h = c.ParentHashes[0]
	}

	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

func (s *MemoryStore) pull(number int) (*PullRequest, error) {
	if number < 1 || number > len(s.pulls) {
		return nil, fmt.Errorf("pull request #%d: %w", number, gh.ErrNotFound)
	}
	return s.pulls[number-1], nil
}
