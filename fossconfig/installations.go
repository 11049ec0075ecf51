/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossconfig

import (
	"context"
	"sync"
)

// InstallationSource resolves per-tenant configuration.
type InstallationSource interface {
	// Installation returns the configuration for an installation,
	// falling back to defaults for unknown IDs. id zero means "no
	// installation context" and also yields defaults.
	Installation(ctx context.Context, id int64) (*Installation, error)
}

// Installations is an in-memory InstallationSource with administrative
// overrides. Installation administration UIs write through Set; the
// pipeline only reads.
type Installations struct {
	mu        sync.RWMutex
	overrides map[int64]Installation
}

var _ InstallationSource = (*Installations)(nil)

// NewInstallations returns a source that serves defaults until overridden.
func NewInstallations() *Installations {
	return &Installations{overrides: map[int64]Installation{}}
}

func (s *Installations) Installation(_ context.Context, id int64) (*Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inst, ok := s.overrides[id]; ok {
		cp := inst
		return &cp, nil
	}
	return &Installation{
		ID:       id,
		Locale:   "en",
		Features: DefaultFeatures(),
	}, nil
}

// Set stores an installation override.
func (s *Installations) Set(inst Installation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[inst.ID] = inst
}
