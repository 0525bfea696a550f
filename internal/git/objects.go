package git

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	gh "github.com/rancher/backport-action/internal/github"
)

func writeBlob(st *memory.Storage, content string) (plumbing.Hash, error) {
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := io.WriteString(w, content); err != nil {
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

// writeTree stores files (slash separated paths to contents) as a tree
// hierarchy and returns the root tree hash.
func writeTree(st *memory.Storage, files map[string]string) (plumbing.Hash, error) {
	blobs := make(map[string]string)
	dirs := make(map[string]map[string]string)
	for path, content := range files {
		path = strings.Trim(path, "/")
		if path == "" {
			return plumbing.ZeroHash, fmt.Errorf("empty path in tree")
		}
		dir, rest, nested := strings.Cut(path, "/")
		if !nested {
			blobs[path] = content
			continue
		}
		if dirs[dir] == nil {
			dirs[dir] = make(map[string]string)
		}
		dirs[dir][rest] = content
	}

	tree := &object.Tree{}
	for name, content := range blobs {
		hash, err := writeBlob(st, content)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: hash})
	}
	for name, sub := range dirs {
		if _, clash := blobs[name]; clash {
			return plumbing.ZeroHash, fmt.Errorf("path %q is both a file and a directory", name)
		}
		hash, err := writeTree(st, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}

	// Git orders directories as if their name carried a trailing slash.
	sortKey := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(tree.Entries, func(i, j int) bool {
		return sortKey(tree.Entries[i]) < sortKey(tree.Entries[j])
	})

	obj := st.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

func readTree(st *memory.Storage, hash plumbing.Hash) (map[string]string, error) {
	tree, err := object.GetTree(st, hash)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", hash, err)
	}

	files := make(map[string]string)
	err = tree.Files().ForEach(func(f *object.File) error {
		content, err := f.Contents()
		if err != nil {
			return err
		}
		files[f.Name] = content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", hash, err)
	}
	return files, nil
}

func writeCommit(st *memory.Storage, c *object.Commit) (plumbing.Hash, error) {
	obj := st.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return st.SetEncodedObject(obj)
}

func toCommit(c *object.Commit) gh.Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return gh.Commit{
		SHA:        c.Hash.String(),
		ParentSHAs: parents,
		TreeSHA:    c.TreeHash.String(),
		Message:    c.Message,
		Author:     gh.Signature{Name: c.Author.Name, Email: c.Author.Email, Date: c.Author.When},
		Committer:  gh.Signature{Name: c.Committer.Name, Email: c.Committer.Email, Date: c.Committer.When},
	}
}

// mergeTrees merges theirs onto ours with base as the common ancestor, path by
// path. Paths changed on one side take that side; paths changed identically on
// both sides merge trivially; text edited on both sides goes through merge3.
func mergeTrees(base, ours, theirs map[string]string) (map[string]string, []string) {
	paths := make(map[string]struct{})
	for _, m := range []map[string]string{base, ours, theirs} {
		for p := range m {
			paths[p] = struct{}{}
		}
	}

	merged := make(map[string]string)
	var conflicts []string
	for path := range paths {
		b, inBase := base[path]
		o, inOurs := ours[path]
		t, inTheirs := theirs[path]

		take := func(content string, present bool) {
			if present {
				merged[path] = content
			}
		}

		switch {
		case inOurs == inTheirs && o == t:
			take(o, inOurs)
		case inBase == inOurs && b == o:
			take(t, inTheirs)
		case inBase == inTheirs && b == t:
			take(o, inOurs)
		case inBase && inOurs && inTheirs:
			text, ok := merge3(b, o, t)
			if !ok {
				conflicts = append(conflicts, path)
				continue
			}
			merged[path] = text
		default:
			conflicts = append(conflicts, path)
		}
	}

	sort.Strings(conflicts)
	return merged, conflicts
}
