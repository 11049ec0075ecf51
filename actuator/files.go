/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package actuator

import (
	"context"
	"fmt"

	"github.com/google/go-github/v75/github"
)

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Path      string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// ListChangedFiles returns the files changed by the target pull request.
func (g *GitHub) ListChangedFiles(ctx context.Context, target Target) ([]ChangedFile, error) {
	opts := &github.ListOptions{PerPage: 100}
	var out []ChangedFile
	for {
		files, resp, err := g.client.PullRequests.ListFiles(ctx, target.Owner, target.Repo, target.Number, opts)
		if err != nil {
			return nil, classify(fmt.Errorf("listing files for %s: %w", target, err))
		}
		for _, f := range files {
			out = append(out, ChangedFile{
				Path:      f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}
