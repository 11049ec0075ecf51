/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package handlers

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"

	"chainguard.dev/fossmate/actuator"
	"chainguard.dev/fossmate/events"
	"chainguard.dev/fossmate/fossconfig"
	"chainguard.dev/fossmate/gateway"
	"chainguard.dev/fossmate/ledger"
	"chainguard.dev/fossmate/retrieval"
)

// Options carries the dependencies shared by all handlers.
type Options struct {
	Inference Inference
	Actuator  actuator.Actuator
	Index     retrieval.Index

	// Handle is the assistant identity used in markers and mentions.
	Handle string

	// RetrievalK bounds grounding context size. Zero disables retrieval.
	RetrievalK int

	// Filter post-processes every generated text. Nil means TrimFilter.
	Filter OutputFilter
}

func (o Options) filter(s string) string {
	if o.Filter != nil {
		return o.Filter(s)
	}
	return TrimFilter(s)
}

// ground resolves retrieval context for a query. Retrieval is advisory;
// any failure degrades to an ungrounded prompt.
func (o Options) ground(ctx context.Context, query string) string {
	if o.Index == nil || o.RetrievalK <= 0 {
		return ""
	}
	vec, err := o.Inference.Embed(ctx, query)
	if err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Debug("Embedding failed, proceeding without grounding")
		return ""
	}
	results, err := o.Index.Query(ctx, vec, o.RetrievalK)
	if err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Debug("Retrieval failed, proceeding without grounding")
		return ""
	}
	return retrieval.FormatContext(results)
}

// IssueHandler summarizes newly opened issues and suggests triage labels.
type IssueHandler struct {
	opts Options
}

// NewIssueHandler wires the issue pipeline.
func NewIssueHandler(opts Options) *IssueHandler {
	return &IssueHandler{opts: opts}
}

func (h *IssueHandler) ID() string { return "issue-summary" }

func (h *IssueHandler) Handle(ctx context.Context, ev *events.Normalized, inst *fossconfig.Installation) (*Result, error) {
	log := clog.FromContext(ctx)

	if ev.IssueNumber == 0 {
		return skipped("event carries no issue"), nil
	}
	if ev.SenderType == "Bot" {
		return skipped("ignoring bot-authored issue"), nil
	}

	grounding := h.opts.ground(ctx, ev.IssueTitle+"\n"+ev.IssueBody)

	resp, err := h.opts.Inference.Generate(ctx, &gateway.Request{
		System: "You are a repository triage assistant.",
		Prompt: issueSummaryPrompt(ev.IssueTitle, ev.IssueBody, grounding),
	})
	if err != nil {
		return nil, fmt.Errorf("generating issue summary: %w", err)
	}
	summary := h.opts.filter(resp.Text)

	target := actuator.Target{Owner: ev.Owner, Repo: ev.Repo, Number: ev.IssueNumber}
	body := fmt.Sprintf("### Issue Summary\n\n%s", summary)

	res := &Result{Status: ledger.RunDone, Summary: summary}

	// Label suggestion is advisory; its failure degrades the run to
	// partial rather than failing it.
	labels := h.suggestLabels(ctx, ev)
	if len(labels) > 0 {
		body += fmt.Sprintf("\n\n**Suggested labels**: `%v`", labels)
		if err := h.opts.Actuator.ApplyLabels(ctx, target, labels); err != nil {
			log.With("error", err.Error()).Warn("Applying suggested labels failed")
			res.Status = ledger.RunPartial
			res.Cause = fmt.Sprintf("applying labels: %v", err)
		}
	}

	if err := h.opts.Actuator.UpsertComment(ctx, target, issueSummaryMarker(h.opts.Handle), body); err != nil {
		return nil, fmt.Errorf("posting issue summary: %w", err)
	}
	return res, nil
}

func (h *IssueHandler) suggestLabels(ctx context.Context, ev *events.Normalized) []string {
	resp, err := h.opts.Inference.Generate(ctx, &gateway.Request{
		System: "You label GitHub issues for triage.",
		Prompt: issueLabelsPrompt(ev.IssueTitle, ev.IssueBody),
	})
	if err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Warn("Label suggestion failed")
		return nil
	}
	return parseLabels(resp.Text)
}
