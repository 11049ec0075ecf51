/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package engine

import (
	"context"

	"chainguard.dev/fossmate/ledger"
)

// Notification describes one completed delivery run.
type Notification struct {
	Record *ledger.Record
	Run    *ledger.Run
}

// Notifier delivers completed-run reports to installations that opted in.
// Implementations own the transport (email, chat). Delivery is best
// effort: the engine logs failures and never retries or fails the record
// over them.
type Notifier interface {
	NotifyRunCompleted(ctx context.Context, n *Notification) error
}

// NopNotifier discards notifications. It is the default when no transport
// is configured.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) NotifyRunCompleted(context.Context, *Notification) error { return nil }
