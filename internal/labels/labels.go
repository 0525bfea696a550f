package labels

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Target is a base branch requested for a backport, either through a label such as
// "backport release/v1.2" or through manual configuration.
type Target struct {
	LabelName string
	Branch    string
}

var errEmptyPrefix = errors.New("label prefix cannot be empty")

// CollectTargets returns a deduplicated Target for each label starting with prefix,
// preserving first-seen order. Matching is case-insensitive. Surrounding whitespace
// in prefix is significant so that "backport " does not match "backport-skip".
func CollectTargets(labelNames []string, prefix string) ([]Target, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, errEmptyPrefix
	}
	prefix = strings.TrimLeft(prefix, " \t")

	targets := make([]Target, 0, len(labelNames))
	seen := make(map[string]struct{})

	for _, name := range labelNames {
		branch, ok := parseBranch(name, prefix)
		if !ok {
			continue
		}
		if _, exists := seen[branch]; exists {
			continue
		}
		seen[branch] = struct{}{}
		targets = append(targets, Target{LabelName: strings.TrimSpace(name), Branch: branch})
	}

	return targets, nil
}

// TargetFromLabel returns the Target for a single label, if it carries the prefix.
func TargetFromLabel(labelName, prefix string) (Target, bool) {
	targets, err := CollectTargets([]string{labelName}, prefix)
	if err != nil || len(targets) == 0 {
		return Target{}, false
	}
	return targets[0], true
}

// TargetsFromBranches wraps manually configured branch names as targets.
func TargetsFromBranches(branches []string) []Target {
	targets := make([]Target, 0, len(branches))
	for _, b := range branches {
		if b = NormalizeBranch(b); b != "" {
			targets = append(targets, Target{Branch: b})
		}
	}
	return targets
}

func parseBranch(labelName, prefix string) (string, bool) {
	labelName = strings.TrimLeft(labelName, " \t")
	if len(labelName) < len(prefix) || !strings.EqualFold(labelName[:len(prefix)], prefix) {
		return "", false
	}

	branch := NormalizeBranch(labelName[len(prefix):])
	return branch, branch != ""
}

// ValidateTargets ensures each target branch is a usable ref name.
func ValidateTargets(targets []Target) error {
	for _, t := range targets {
		if err := ValidateBranch(t.Branch); err != nil {
			if t.LabelName == "" {
				return fmt.Errorf("invalid branch %q: %w", t.Branch, err)
			}
			return fmt.Errorf("invalid branch %q from label %q: %w", t.Branch, t.LabelName, err)
		}
	}
	return nil
}

// ValidateBranch rejects names git would refuse as a branch.
func ValidateBranch(branch string) error {
	switch {
	case branch == "":
		return errors.New("branch cannot be empty")
	case strings.ContainsAny(branch, " \t\n\r"):
		return errors.New("branch cannot contain whitespace")
	case strings.Contains(branch, ".."):
		return errors.New("branch cannot contain '..'")
	case strings.ContainsAny(branch, "~^:?*[]\\") || strings.Contains(branch, "@{"):
		return errors.New("branch contains forbidden git characters")
	case strings.HasPrefix(branch, "/") || strings.HasSuffix(branch, "/") || strings.Contains(branch, "//"):
		return errors.New("branch has an empty path component")
	case strings.HasSuffix(branch, ".") || strings.HasSuffix(branch, ".lock"):
		return errors.New("branch cannot end with '.' or '.lock'")
	case branch == "@":
		return errors.New("branch cannot be '@'")
	}
	return nil
}

// MergeTargets merges multiple slices of targets preserving order and removing duplicates.
func MergeTargets(groups ...[]Target) []Target {
	result := make([]Target, 0)
	seen := make(map[string]struct{})

	for _, group := range groups {
		for _, t := range group {
			if _, ok := seen[t.Branch]; ok {
				continue
			}
			seen[t.Branch] = struct{}{}
			result = append(result, t)
		}
	}

	return result
}

// SortedBranches returns a deduplicated, sorted list of branch names.
func SortedBranches(targets []Target) []string {
	branches := make([]string, 0, len(targets))
	for _, t := range targets {
		branches = append(branches, t.Branch)
	}
	slices.Sort(branches)
	return slices.Compact(branches)
}

// NormalizeBranch trims whitespace and slashes and strips a refs/heads/ prefix.
// It returns an empty string when nothing remains.
func NormalizeBranch(branch string) string {
	branch = strings.Trim(strings.TrimSpace(branch), "/")

	const heads = "refs/heads/"
	if len(branch) >= len(heads) && strings.EqualFold(branch[:len(heads)], heads) {
		branch = branch[len(heads):]
	}

	return strings.TrimSpace(strings.Trim(strings.TrimSpace(branch), "/"))
}
