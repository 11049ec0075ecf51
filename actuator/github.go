/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package actuator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

// GitHub implements Actuator against the GitHub REST API.
type GitHub struct {
	client    *github.Client
	checkName string
}

var _ Actuator = (*GitHub)(nil)

// NewGitHub wraps a configured client. checkName is the name under which
// check runs are reported.
func NewGitHub(client *github.Client, checkName string) *GitHub {
	if checkName == "" {
		checkName = "FOSSMate Review"
	}
	return &GitHub{client: client, checkName: checkName}
}

func (g *GitHub) UpsertComment(ctx context.Context, target Target, marker, body string) error {
	rendered := marker + "\n" + body

	existing, err := g.findComment(ctx, target, marker)
	if err != nil {
		return err
	}

	if existing != 0 {
		_, _, err := g.client.Issues.EditComment(ctx, target.Owner, target.Repo, existing, &github.IssueComment{
			Body: github.Ptr(rendered),
		})
		if err != nil {
			return classify(fmt.Errorf("editing comment %d on %s: %w", existing, target, err))
		}
		clog.FromContext(ctx).With("target", target.String()).With("comment_id", existing).
			Info("Updated existing comment")
		return nil
	}

	_, _, err = g.client.Issues.CreateComment(ctx, target.Owner, target.Repo, target.Number, &github.IssueComment{
		Body: github.Ptr(rendered),
	})
	if err != nil {
		return classify(fmt.Errorf("creating comment on %s: %w", target, err))
	}
	return nil
}

// findComment returns the ID of the comment carrying marker, or zero.
func (g *GitHub) findComment(ctx context.Context, target Target, marker string) (int64, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := g.client.Issues.ListComments(ctx, target.Owner, target.Repo, target.Number, opts)
		if err != nil {
			return 0, classify(fmt.Errorf("listing comments on %s: %w", target, err))
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), marker) {
				return c.GetID(), nil
			}
		}
		if resp.NextPage == 0 {
			return 0, nil
		}
		opts.Page = resp.NextPage
	}
}

func (g *GitHub) ApplyLabels(ctx context.Context, target Target, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	_, _, err := g.client.Issues.AddLabelsToIssue(ctx, target.Owner, target.Repo, target.Number, labels)
	if err != nil {
		return classify(fmt.Errorf("applying labels to %s: %w", target, err))
	}
	return nil
}

func (g *GitHub) SetCheckStatus(ctx context.Context, target Target, status CheckStatus, detail string) error {
	if target.HeadSHA == "" {
		return fmt.Errorf("check status on %s requires a head SHA", target)
	}

	// Upsert: update the existing run for this head if one exists.
	runs, _, err := g.client.Checks.ListCheckRunsForRef(ctx, target.Owner, target.Repo, target.HeadSHA,
		&github.ListCheckRunsOptions{CheckName: github.Ptr(g.checkName)})
	if err != nil {
		return classify(fmt.Errorf("listing check runs for %s@%s: %w", target, target.HeadSHA, err))
	}

	output := &github.CheckRunOutput{
		Title:   github.Ptr(g.checkName),
		Summary: github.Ptr(detail),
	}

	if runs != nil && len(runs.CheckRuns) > 0 {
		run := runs.CheckRuns[0]
		_, _, err := g.client.Checks.UpdateCheckRun(ctx, target.Owner, target.Repo, run.GetID(), github.UpdateCheckRunOptions{
			Name:       g.checkName,
			Status:     github.Ptr("completed"),
			Conclusion: github.Ptr(string(status)),
			Output:     output,
		})
		if err != nil {
			return classify(fmt.Errorf("updating check run on %s: %w", target, err))
		}
		return nil
	}

	_, _, err = g.client.Checks.CreateCheckRun(ctx, target.Owner, target.Repo, github.CreateCheckRunOptions{
		Name:       g.checkName,
		HeadSHA:    target.HeadSHA,
		Status:     github.Ptr("completed"),
		Conclusion: github.Ptr(string(status)),
		Output:     output,
	})
	if err != nil {
		return classify(fmt.Errorf("creating check run on %s: %w", target, err))
	}
	return nil
}

// classify folds authorization failures into ErrPermissionDenied so
// callers can treat them as terminal.
func classify(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	return err
}
