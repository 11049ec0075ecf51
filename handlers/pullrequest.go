/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/fossmate/actuator"
	"chainguard.dev/fossmate/events"
	"chainguard.dev/fossmate/fossconfig"
	"chainguard.dev/fossmate/gateway"
	"chainguard.dev/fossmate/ledger"
)

// ChangeLister reads the file-level diff of a pull request.
type ChangeLister interface {
	ListChangedFiles(ctx context.Context, target actuator.Target) ([]actuator.ChangedFile, error)
}

// PullRequestHandler runs the full review pipeline: categorization,
// summary, per-file notes, review suggestions, and an advisory scorecard.
// The summary is mandatory; every other sub-feature degrades the run to
// partial on failure instead of failing it.
type PullRequestHandler struct {
	opts    Options
	changes ChangeLister
}

// NewPullRequestHandler wires the review pipeline.
func NewPullRequestHandler(opts Options, changes ChangeLister) *PullRequestHandler {
	return &PullRequestHandler{opts: opts, changes: changes}
}

func (h *PullRequestHandler) ID() string { return "pr-review" }

func (h *PullRequestHandler) Handle(ctx context.Context, ev *events.Normalized, inst *fossconfig.Installation) (*Result, error) {
	log := clog.FromContext(ctx)

	if ev.PRNumber == 0 {
		return skipped("event carries no pull request"), nil
	}
	if ev.Action == "synchronize" && !inst.Features.CommitTrigger {
		return skipped("commit-triggered reviews disabled for installation"), nil
	}
	if !inst.Features.PRSummary {
		return skipped("pr review disabled for installation"), nil
	}

	target := actuator.Target{Owner: ev.Owner, Repo: ev.Repo, Number: ev.PRNumber, HeadSHA: ev.HeadSHA}

	files, err := h.changes.ListChangedFiles(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("reading pull request diff: %w", err)
	}
	category := categorize(ev.PRTitle, files)

	resp, err := h.opts.Inference.Generate(ctx, &gateway.Request{
		System: "You review pull requests for open source maintainers.",
		Prompt: prSummaryPrompt(ev.PRTitle, category, files),
	})
	if err != nil {
		return nil, fmt.Errorf("generating pr summary: %w", err)
	}
	summary := h.opts.filter(resp.Text)

	res := &Result{Status: ledger.RunDone, Summary: summary}
	degrade := func(cause string) {
		res.Status = ledger.RunPartial
		if res.Cause != "" {
			res.Cause += "; "
		}
		res.Cause += cause
	}

	var notes []fileNote
	if inst.Features.FileSummary {
		var failed int
		notes, failed = h.fileNotes(ctx, files)
		if failed > 0 {
			degrade(fmt.Sprintf("%d file note(s) failed", failed))
		}
	}

	if inst.Features.ReviewSuggestions {
		res.Findings = h.suggestions(ctx, ev.PRTitle, files)
	}

	if inst.Features.Scoring {
		res.Score = scoreHeuristic(files, res.Findings)
	}

	comment := formatPRComment(category, summary, files, res.Findings, res.Score)
	if len(notes) > 0 {
		comment += "\n#### File Notes\n"
		for _, n := range notes {
			comment += fmt.Sprintf("- `%s` `[%s]`: %s\n", n.Path, n.Risk, n.Summary)
		}
	}
	if err := h.opts.Actuator.UpsertComment(ctx, target, prReviewMarker(h.opts.Handle), comment); err != nil {
		return nil, fmt.Errorf("posting review comment: %w", err)
	}

	// Check status mirrors the comment; its failure is non-fatal because
	// the review already landed.
	detail := formatCheckSummary(category, res.Score, len(notes), len(res.Findings))
	if err := h.opts.Actuator.SetCheckStatus(ctx, target, checkStatusFor(res.Score), detail); err != nil {
		log.With("error", err.Error()).Warn("Setting check status failed")
		degrade(fmt.Sprintf("setting check status: %v", err))
	}
	return res, nil
}

// fileNotes generates one-line summaries per changed file, tolerating
// individual failures. Returns the notes plus the failure count.
func (h *PullRequestHandler) fileNotes(ctx context.Context, files []actuator.ChangedFile) ([]fileNote, int) {
	const maxNoted = 10

	var notes []fileNote
	var failed int
	for _, f := range files[:min(len(files), maxNoted)] {
		if f.Patch == "" {
			continue
		}
		resp, err := h.opts.Inference.Generate(ctx, &gateway.Request{
			System: "You summarize code diffs.",
			Prompt: fileNotePrompt(f),
		})
		if err != nil {
			clog.FromContext(ctx).With("path", f.Path).With("error", err.Error()).Warn("File note failed")
			failed++
			continue
		}
		notes = append(notes, fileNote{
			Path:    f.Path,
			Summary: h.opts.filter(resp.Text),
			Risk:    riskFor(f),
		})
	}
	return notes, failed
}

func riskFor(f actuator.ChangedFile) string {
	switch churn := f.Additions + f.Deletions; {
	case churn > 300:
		return "high"
	case churn > 80:
		return "medium"
	default:
		return "low"
	}
}

func (h *PullRequestHandler) suggestions(ctx context.Context, title string, files []actuator.ChangedFile) []ledger.Finding {
	resp, err := h.opts.Inference.Generate(ctx, &gateway.Request{
		System: "You provide non-blocking code review suggestions.",
		Prompt: suggestionsPrompt(title, files),
	})
	if err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Warn("Suggestion generation failed, using generic guidance")
		return fallbackSuggestions(files)
	}
	if findings := parseSuggestions(resp.Text); len(findings) > 0 {
		return findings
	}
	return fallbackSuggestions(files)
}

// scoreHeuristic derives the advisory scorecard from diff shape and the
// suggestion severities. No model call is involved.
func scoreHeuristic(files []actuator.ChangedFile, findings []ledger.Finding) *ledger.ScoreCard {
	var churn int
	hasTests := false
	for _, f := range files {
		churn += f.Additions + f.Deletions
		if strings.Contains(f.Path, "_test.") || strings.Contains(f.Path, "test/") ||
			strings.Contains(f.Path, "tests/") {
			hasTests = true
		}
	}

	correctness := 8.0
	for _, f := range findings {
		switch f.Severity {
		case "high":
			correctness -= 1.5
		case "medium":
			correctness -= 0.75
		default:
			correctness -= 0.25
		}
	}
	if hasTests {
		correctness += 1.0
	}

	readability := 8.0
	switch {
	case churn > 1000:
		readability -= 3.0
	case churn > 400:
		readability -= 1.5
	case churn > 150:
		readability -= 0.5
	}

	maintainability := 7.5
	if hasTests {
		maintainability += 1.5
	}
	if len(files) > 30 {
		maintainability -= 1.5
	}

	return &ledger.ScoreCard{
		Correctness:     clampScore(correctness),
		Readability:     clampScore(readability),
		Maintainability: clampScore(maintainability),
		Overall:         clampScore((correctness + readability + maintainability) / 3),
		AdvisoryOnly:    true,
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// checkStatusFor maps the advisory score onto a check conclusion. Reviews
// are advisory, so the conclusion never fails a PR outright.
func checkStatusFor(score *ledger.ScoreCard) actuator.CheckStatus {
	if score == nil {
		return actuator.CheckNeutral
	}
	if score.Overall >= 7.0 {
		return actuator.CheckSuccess
	}
	return actuator.CheckNeutral
}
