package gh

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

var disallowedBranchChars = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

// BranchNamingOptions controls how backport branch names are generated.
type BranchNamingOptions struct {
	Prefix            string
	MaxLength         int
	HashLength        int
	SanitizeEmptyWith string
}

var defaultBranchNaming = BranchNamingOptions{
	Prefix:            "backport",
	MaxLength:         100,
	HashLength:        8,
	SanitizeEmptyWith: "target",
}

// BranchNameForBackport returns the branch name used to backport pull request
// number onto base: "<prefix>-<number>-on-<base>". The base segment is sanitized
// and, when the result would exceed MaxLength, shortened with an fnv hash suffix
// so distinct bases keep distinct names.
func BranchNameForBackport(base string, number int, opts ...BranchNamingOptions) string {
	config := defaultBranchNaming
	if len(opts) > 0 {
		o := opts[0]
		if o.Prefix != "" {
			config.Prefix = o.Prefix
		}
		if o.MaxLength > 0 {
			config.MaxLength = o.MaxLength
		}
		if o.HashLength > 0 {
			config.HashLength = o.HashLength
		}
		if o.SanitizeEmptyWith != "" {
			config.SanitizeEmptyWith = o.SanitizeEmptyWith
		}
	}

	lead := fmt.Sprintf("%s-%d-on-", config.Prefix, number)
	segment := sanitizeBranchSegment(base, config)

	if len(lead)+len(segment) <= config.MaxLength {
		return lead + segment
	}

	available := config.MaxLength - len(lead)
	if available < 1 {
		available = 1
	}
	return lead + shortenSegment(segment, available, config)
}

func sanitizeBranchSegment(segment string, config BranchNamingOptions) string {
	segment = strings.TrimSpace(segment)
	segment = strings.TrimPrefix(segment, "refs/heads/")
	segment = disallowedBranchChars.ReplaceAllString(segment, "-")
	for strings.Contains(segment, "//") {
		segment = strings.ReplaceAll(segment, "//", "/")
	}
	for strings.Contains(segment, "..") {
		segment = strings.ReplaceAll(segment, "..", ".")
	}
	for strings.Contains(segment, "--") {
		segment = strings.ReplaceAll(segment, "--", "-")
	}
	segment = strings.Trim(segment, "-/.")
	segment = strings.TrimSuffix(segment, ".lock")

	if segment == "" {
		segment = config.SanitizeEmptyWith
	}
	return segment
}

func shortenSegment(segment string, available int, config BranchNamingOptions) string {
	if len(segment) <= available {
		return segment
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(segment))
	hex := fmt.Sprintf("%0*x", config.HashLength, h.Sum32())
	suffix := "-" + hex

	if len(suffix) >= available {
		if len(hex) > available {
			return hex[:available]
		}
		return hex
	}

	base := strings.TrimRight(segment[:available-len(suffix)], "-./")
	if base == "" {
		base = config.SanitizeEmptyWith
		if len(base) > available-len(suffix) {
			base = base[:available-len(suffix)]
		}
	}
	return base + suffix
}
