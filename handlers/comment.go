/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package handlers

import (
	"context"
	"fmt"
	"strings"

	"chainguard.dev/fossmate/actuator"
	"chainguard.dev/fossmate/events"
	"chainguard.dev/fossmate/fossconfig"
	"chainguard.dev/fossmate/gateway"
	"chainguard.dev/fossmate/ledger"
)

// CommentHandler replies to issue and PR comments. It answers direct
// mentions of the assistant, optionally every human comment, and serves
// a canned onboarding reply for newcomer questions.
type CommentHandler struct {
	opts Options
}

// NewCommentHandler wires the comment pipeline.
func NewCommentHandler(opts Options) *CommentHandler {
	return &CommentHandler{opts: opts}
}

func (h *CommentHandler) ID() string { return "comment-reply" }

var onboardingPhrases = []string{
	"how do i contribute",
	"how to contribute",
	"first issue",
	"getting started",
	"where do i start",
	"new contributor",
}

func isOnboardingIntent(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range onboardingPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (h *CommentHandler) Handle(ctx context.Context, ev *events.Normalized, inst *fossconfig.Installation) (*Result, error) {
	body := strings.TrimSpace(ev.CommentBody)

	// Loop guards: never answer bots, our own output, or empty noise.
	switch {
	case body == "":
		return skipped("empty comment"), nil
	case ev.SenderType == "Bot" || strings.HasSuffix(ev.SenderLogin, "[bot]"):
		return skipped("ignoring bot comment"), nil
	case strings.Contains(body, fmt.Sprintf("<!-- %s:", h.opts.Handle)):
		return skipped("ignoring own comment"), nil
	}

	if !inst.Features.CommentAutoReply {
		return skipped("comment replies disabled for installation"), nil
	}

	target := actuator.Target{Owner: ev.Owner, Repo: ev.Repo, Number: ev.TargetNumber()}

	if isOnboardingIntent(body) {
		reply := fmt.Sprintf(
			"Welcome! A good starting point:\n\n"+
				"1. Read `CONTRIBUTING.md` if the repository has one.\n"+
				"2. Look for issues labeled `good first issue` or `help wanted`.\n"+
				"3. Open a draft PR early; maintainers here are happy to guide.\n\n"+
				"Mention `@%s` in a comment if you have questions.", h.opts.Handle)
		marker := commentReplyMarker(h.opts.Handle, "onboarding", ev.CommentID)
		if err := h.opts.Actuator.UpsertComment(ctx, target, marker, reply); err != nil {
			return nil, fmt.Errorf("posting onboarding reply: %w", err)
		}
		return &Result{Status: ledger.RunDone, Summary: "onboarding reply posted"}, nil
	}

	mentioned := strings.Contains(strings.ToLower(body), "@"+strings.ToLower(h.opts.Handle))
	if !mentioned && !inst.Features.CommentReplyAll {
		return skipped("no assistant mention and reply-all disabled"), nil
	}

	grounding := h.opts.ground(ctx, ev.IssueTitle+"\n"+body)
	resp, err := h.opts.Inference.Generate(ctx, &gateway.Request{
		System: "You are a repository maintainer assistant. Be concise and factual.",
		Prompt: commentReplyPrompt(h.opts.Handle, ev.IssueTitle, body, grounding),
	})
	if err != nil {
		return nil, fmt.Errorf("generating comment reply: %w", err)
	}

	marker := commentReplyMarker(h.opts.Handle, "comment-assistant", ev.CommentID)
	if err := h.opts.Actuator.UpsertComment(ctx, target, marker, h.opts.filter(resp.Text)); err != nil {
		return nil, fmt.Errorf("posting comment reply: %w", err)
	}
	return &Result{Status: ledger.RunDone, Summary: "assistant reply posted"}, nil
}
