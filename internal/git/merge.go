package git

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// hunk replaces base lines [start, end) with lines.
type hunk struct {
	start int
	end   int
	lines []string
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineHunks returns the changes turning base into other, in base order.
func lineHunks(base, other string) []hunk {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var (
		hunks []hunk
		cur   *hunk
		pos   int
	)
	for _, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			if cur != nil {
				hunks = append(hunks, *cur)
				cur = nil
			}
			pos += len(lines)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &hunk{start: pos, end: pos}
			}
			pos += len(lines)
			cur.end = pos
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &hunk{start: pos, end: pos}
			}
			cur.lines = append(cur.lines, lines...)
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	return hunks
}

func applyHunks(base []string, start, end int, hunks []hunk) string {
	var b strings.Builder
	cur := start
	for _, h := range hunks {
		b.WriteString(strings.Join(base[cur:h.start], ""))
		b.WriteString(strings.Join(h.lines, ""))
		cur = h.end
	}
	b.WriteString(strings.Join(base[cur:end], ""))
	return b.String()
}

type sidedHunk struct {
	hunk
	theirs bool
}

// merge3 merges the changes base→ours and base→theirs line by line. Changes
// that overlap or touch form one region; a region edited on both sides merges
// only when both sides produce the same text. It returns false on conflict.
func merge3(base, ours, theirs string) (string, bool) {
	baseLines := splitLines(base)

	var all []sidedHunk
	for _, h := range lineHunks(base, ours) {
		all = append(all, sidedHunk{hunk: h})
	}
	for _, h := range lineHunks(base, theirs) {
		all = append(all, sidedHunk{hunk: h, theirs: true})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].end < all[j].end
	})

	var out strings.Builder
	pos := 0
	for i := 0; i < len(all); {
		start, end := all[i].start, all[i].end
		var mine, yours []hunk
		for ; i < len(all) && (len(mine)+len(yours) == 0 || all[i].start <= end); i++ {
			if all[i].end > end {
				end = all[i].end
			}
			if all[i].theirs {
				yours = append(yours, all[i].hunk)
			} else {
				mine = append(mine, all[i].hunk)
			}
		}

		out.WriteString(strings.Join(baseLines[pos:start], ""))
		switch {
		case len(yours) == 0:
			out.WriteString(applyHunks(baseLines, start, end, mine))
		case len(mine) == 0:
			out.WriteString(applyHunks(baseLines, start, end, yours))
		default:
			left := applyHunks(baseLines, start, end, mine)
			if left != applyHunks(baseLines, start, end, yours) {
				return "", false
			}
			out.WriteString(left)
		}
		pos = end
	}
	out.WriteString(strings.Join(baseLines[pos:], ""))

	return out.String(), true
}
