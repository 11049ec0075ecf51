/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package handlers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"chainguard.dev/fossmate/actuator"
	"chainguard.dev/fossmate/ledger"
)

// Markers keying outbound comments so retries update rather than
// duplicate. The assistant handle is folded in so two deployments never
// fight over each other's comments.
func issueSummaryMarker(handle string) string {
	return fmt.Sprintf("<!-- %s:issue-summary -->", handle)
}

func prReviewMarker(handle string) string {
	return fmt.Sprintf("<!-- %s:pr-review -->", handle)
}

func commentReplyMarker(handle, prefix string, commentID int64) string {
	if commentID == 0 {
		return fmt.Sprintf("<!-- %s:%s -->", handle, prefix)
	}
	return fmt.Sprintf("<!-- %s:%s:%d -->", handle, prefix, commentID)
}

func issueSummaryPrompt(title, body, grounding string) string {
	var sb strings.Builder
	sb.WriteString("Summarize this GitHub issue in 3 concise bullets for maintainers.\n")
	if grounding != "" {
		sb.WriteString("\n" + grounding + "\n")
	}
	fmt.Fprintf(&sb, "\nTitle: %s\nBody:\n%s", title, body)
	return sb.String()
}

func issueLabelsPrompt(title, body string) string {
	return fmt.Sprintf(
		"Suggest up to 3 short repository labels for this issue. "+
			"Respond with a JSON array of lowercase strings only.\n"+
			"Title: %s\nBody:\n%s", title, body)
}

func commentReplyPrompt(handle, issueTitle, comment, grounding string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a maintainer assistant. Reply helpfully and briefly to this comment.\n", handle)
	if grounding != "" {
		sb.WriteString("\n" + grounding + "\n")
	}
	fmt.Fprintf(&sb, "\nIssue: %s\nComment:\n%s", issueTitle, comment)
	return sb.String()
}

func prSummaryPrompt(title, category string, files []actuator.ChangedFile) string {
	names := make([]string, 0, min(len(files), 20))
	for _, f := range files[:min(len(files), 20)] {
		names = append(names, f.Path)
	}
	return fmt.Sprintf(
		"Generate a concise pull request summary for maintainers. Include:\n"+
			"1) what changed\n2) risk/impact\n3) suggested review focus\n"+
			"Keep to <= 6 bullets.\n\n"+
			"PR title: %s\nCategory: %s\nChanged files: %s\n",
		title, category, strings.Join(names, ", "))
}

func fileNotePrompt(f actuator.ChangedFile) string {
	patch := f.Patch
	if len(patch) > 3000 {
		patch = patch[:3000]
	}
	return fmt.Sprintf(
		"Summarize this code diff in one sentence plus risk level (low/medium/high).\n"+
			"File: %s\nPatch:\n%s", f.Path, patch)
}

func suggestionsPrompt(title string, files []actuator.ChangedFile) string {
	names := make([]string, 0, min(len(files), 25))
	for _, f := range files[:min(len(files), 25)] {
		names = append(names, f.Path)
	}
	return fmt.Sprintf(
		"Provide up to 5 non-blocking code review suggestions for this PR. "+
			"Respond as a JSON list with fields: title, details, severity(low|medium|high), file_path(optional).\n"+
			"PR title: %s\nFiles: %s", title, strings.Join(names, ", "))
}

var featureRE = regexp.MustCompile(`\b(add|implement|introduce|create|feat)\b`)

// categorize buckets a PR by its title and touched paths.
func categorize(title string, files []actuator.ChangedFile) string {
	titleL := strings.ToLower(title)
	var paths strings.Builder
	for _, f := range files {
		paths.WriteString(strings.ToLower(f.Path))
		paths.WriteByte(' ')
	}

	switch {
	case containsAny(titleL, "fix", "bug", "hotfix"):
		return "fix"
	case containsAny(titleL, "refactor", "cleanup"):
		return "refactor"
	case containsAny(titleL, "test", "spec"):
		return "test"
	case containsAny(titleL, "docs", "readme", "documentation") || strings.Contains(paths.String(), "docs/"):
		return "docs"
	case containsAny(titleL, "chore", "ci", "build", "deps"):
		return "chore"
	case featureRE.MatchString(titleL):
		return "feature"
	default:
		return "mixed"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractJSONArray pulls the first JSON array out of model output, which
// may be fenced or surrounded by prose.
func extractJSONArray(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func parseLabels(raw string) []string {
	var parsed []string
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &parsed); err != nil {
		return nil
	}
	labels := make([]string, 0, 3)
	for _, l := range parsed {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || len(l) > 50 {
			continue
		}
		labels = append(labels, l)
		if len(labels) == 3 {
			break
		}
	}
	return labels
}

type suggestion struct {
	Title    string `json:"title"`
	Details  string `json:"details"`
	Severity string `json:"severity"`
	FilePath string `json:"file_path,omitempty"`
}

func parseSuggestions(raw string) []ledger.Finding {
	var parsed []suggestion
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &parsed); err != nil {
		return nil
	}
	findings := make([]ledger.Finding, 0, 5)
	for _, s := range parsed {
		if s.Title == "" {
			continue
		}
		sev := strings.ToLower(s.Severity)
		switch sev {
		case "low", "medium", "high":
		default:
			sev = "medium"
		}
		findings = append(findings, ledger.Finding{
			Title:    s.Title,
			Details:  s.Details,
			Severity: sev,
			Path:     s.FilePath,
		})
		if len(findings) == 5 {
			break
		}
	}
	return findings
}

// fallbackSuggestions covers suggestion-generation failure with generic
// review guidance, as the sub-feature is advisory.
func fallbackSuggestions(files []actuator.ChangedFile) []ledger.Finding {
	var path string
	if len(files) > 0 {
		path = files[0].Path
	}
	return []ledger.Finding{{
		Path:     path,
		Title:    "Validate edge cases",
		Details:  "Review boundary conditions and error handling for modified paths.",
		Severity: "medium",
	}, {
		Title:    "Add or update tests",
		Details:  "Ensure behavior changes are covered by tests to prevent regressions.",
		Severity: "medium",
	}}
}

type fileNote struct {
	Path    string
	Summary string
	Risk    string
}

// formatPRComment renders the review comment body.
func formatPRComment(category, summary string, files []actuator.ChangedFile, findings []ledger.Finding, score *ledger.ScoreCard) string {
	var sb strings.Builder
	sb.WriteString("### Automated Review\n\n")
	fmt.Fprintf(&sb, "**Category**: `%s`\n", category)
	if score != nil {
		fmt.Fprintf(&sb, "**Score (advisory)**: `%.2f/10`\n", score.Overall)
	}
	sb.WriteString("\n#### Summary\n")
	sb.WriteString(summary)
	sb.WriteString("\n\n#### Major Files\n")
	if len(files) == 0 {
		sb.WriteString("- No file details available.\n")
	}
	for _, f := range files[:min(len(files), 5)] {
		fmt.Fprintf(&sb, "- `%s`\n", f.Path)
	}
	sb.WriteString("\n#### Suggestions (Experimental)\n")
	if len(findings) == 0 {
		sb.WriteString("- No suggestions generated.\n")
	}
	for _, f := range findings {
		target := ""
		if f.Path != "" {
			target = fmt.Sprintf(" (%s)", f.Path)
		}
		fmt.Fprintf(&sb, "- **%s**%s: %s `[%s]`\n", f.Title, target, f.Details, f.Severity)
	}
	return sb.String()
}

// formatCheckSummary renders the short check-run detail text.
func formatCheckSummary(category string, score *ledger.ScoreCard, noteCount, suggestionCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Category: %s\n", category)
	if score != nil {
		fmt.Fprintf(&sb, "Overall score: %.2f/10 (advisory)\n", score.Overall)
	}
	fmt.Fprintf(&sb, "Files summarized: %d\nSuggestions: %d", noteCount, suggestionCount)
	return sb.String()
}
