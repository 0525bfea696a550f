package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

func writeStepSummary(outcomes []TargetOutcome) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_STEP_SUMMARY"))
	if path == "" {
		return nil
	}

	var builder strings.Builder
	builder.WriteString("## Backport action summary\n\n")
	builder.WriteString(renderOutcomes(outcomes))

	return appendToFile(path, "step summary", func(w io.Writer) error {
		_, err := io.WriteString(w, builder.String())
		return err
	})
}

func writeGitHubOutputs(outcomes []TargetOutcome) error {
	path := strings.TrimSpace(os.Getenv("GITHUB_OUTPUT"))
	if path == "" {
		return nil
	}

	created := make([]outputCreatedPR, 0)
	failed := make([]outputFailedTarget, 0)

	for _, o := range outcomes {
		switch o.Status {
		case TargetStatusSucceeded:
			if o.Result != nil {
				created = append(created, outputCreatedPR{
					Branch: o.Target.Branch,
					Number: o.Result.Number,
					URL:    o.Result.URL,
					Head:   o.Result.Head,
					Base:   o.Result.Base,
				})
			}
		case TargetStatusFailed:
			failed = append(failed, outputFailedTarget{Branch: o.Target.Branch, Reason: o.Reason})
		}
	}

	createdJSON, err := json.Marshal(created)
	if err != nil {
		return fmt.Errorf("marshal created_prs: %w", err)
	}

	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed_targets: %w", err)
	}

	return appendToFile(path, "github output", func(w io.Writer) error {
		if err := writeMultilineOutput(w, "created_prs", string(createdJSON)); err != nil {
			return err
		}
		return writeMultilineOutput(w, "failed_targets", string(failedJSON))
	})
}

func appendToFile(path, what string, write func(io.Writer) error) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", what, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", what, closeErr)
		}
	}()

	if err := write(file); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

func renderOutcomes(outcomes []TargetOutcome) string {
	if len(outcomes) == 0 {
		return "No backport targets were found.\n"
	}

	var builder strings.Builder
	builder.WriteString("| Branch | Status | Details | PR |\n")
	builder.WriteString("| --- | --- | --- | --- |\n")
	for _, o := range outcomes {
		prCell := "-"
		if o.Result != nil && o.Result.Number > 0 {
			if o.Result.URL != "" {
				prCell = fmt.Sprintf("[PR #%d](%s)", o.Result.Number, o.Result.URL)
			} else {
				prCell = fmt.Sprintf("PR #%d", o.Result.Number)
			}
		}

		builder.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			sanitizeMarkdownCell(o.Target.Branch),
			sanitizeMarkdownCell(string(o.Status)),
			sanitizeMarkdownCell(o.Reason),
			sanitizeMarkdownCell(prCell),
		))
	}

	return builder.String()
}

type outputCreatedPR struct {
	Branch string `json:"branch"`
	Number int    `json:"number"`
	URL    string `json:"url"`
	Head   string `json:"head"`
	Base   string `json:"base"`
}

type outputFailedTarget struct {
	Branch string `json:"branch"`
	Reason string `json:"reason"`
}

func writeMultilineOutput(w io.Writer, key, value string) error {
	if _, err := fmt.Fprintf(w, "%s<<EOF\n%s\nEOF\n", key, value); err != nil {
		return fmt.Errorf("write output %s: %w", key, err)
	}
	return nil
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}
