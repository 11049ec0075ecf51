/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package engine runs the worker pool that drains the workqueue. Each
// claim is resolved through one delivery cycle: re-check state, mark
// processing, route, execute with bounded retries, persist the run, and
// settle the record as done or failed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/fossmate/actuator"
	"chainguard.dev/fossmate/fossconfig"
	"chainguard.dev/fossmate/gateway"
	"chainguard.dev/fossmate/handlers"
	"chainguard.dev/fossmate/ledger"
	"chainguard.dev/fossmate/workqueue"
)

// Options configures the worker pool.
type Options struct {
	Workers int

	// HandlerTimeout bounds one handler attempt.
	HandlerTimeout time.Duration

	// MaxAttempts caps handler executions per delivery cycle. At least 1.
	MaxAttempts int

	// BackoffBase and BackoffCap shape the exponential retry backoff.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Notifier receives completed-run reports for installations with the
	// email_reports flag on. Nil means notifications are discarded.
	Notifier Notifier
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 2 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 15 * time.Second
	}
	if o.Notifier == nil {
		o.Notifier = NopNotifier{}
	}
}

// Engine owns the workers draining the queue.
type Engine struct {
	store    ledger.Store
	queue    *workqueue.Queue
	registry *handlers.Registry
	installs fossconfig.InstallationSource
	opts     Options
}

// New assembles the worker pool.
func New(store ledger.Store, queue *workqueue.Queue, registry *handlers.Registry, installs fossconfig.InstallationSource, opts Options) *Engine {
	opts.defaults()
	return &Engine{
		store:    store,
		queue:    queue,
		registry: registry,
		installs: installs,
		opts:     opts,
	}
}

// Run blocks draining the queue until ctx is cancelled or the queue shuts
// down. Claims already handed to a worker are resolved before return, so
// cancellation drains rather than abandons.
func (e *Engine) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.opts.Workers; i++ {
		eg.Go(func() error {
			for {
				claim, ok := e.queue.Claim(ctx)
				if !ok {
					return nil
				}
				queueDepthGauge.Set(float64(e.queue.Depth()))
				// Cancellation must not truncate a delivery mid-flight;
				// the claim resolves on a detached context.
				e.process(context.WithoutCancel(ctx), claim)
			}
		})
	}
	return eg.Wait()
}

func (e *Engine) process(ctx context.Context, claim workqueue.Claim) {
	defer e.queue.Release(claim.Key)

	log := clog.FromContext(ctx).With("record", claim.RecordID)

	rec, err := e.store.Get(ctx, claim.RecordID)
	if err != nil {
		log.With("error", err.Error()).Error("Dropping claim for unknown record")
		return
	}
	if rec.State != ledger.StateQueued {
		// Duplicate or stale claim. The record is already owned elsewhere
		// or settled; at-least-once claim delivery makes this normal.
		log.With("state", string(rec.State)).Debug("Dropping claim for non-queued record")
		return
	}
	if _, err := e.store.Transition(ctx, rec.ID, ledger.StateQueued, ledger.StateProcessing, nil); err != nil {
		if errors.Is(err, ledger.ErrStaleTransition) {
			log.Debug("Lost claim race, dropping")
			return
		}
		log.With("error", err.Error()).Error("Marking record processing failed")
		return
	}

	ev := rec.Event
	log = log.With("event", ev.EventType).With("action", ev.Action).With("delivery", ev.DeliveryID)
	ctx = clog.WithLogger(ctx, log)

	h, ok := e.registry.Route(ev.EventType, ev.Action)
	if !ok {
		e.settle(ctx, rec, &ledger.Run{
			RecordID: rec.ID,
			Status:   ledger.RunSkipped,
			Summary:  fmt.Sprintf("no handler for %s/%s", ev.EventType, ev.Action),
		}, nil, nil, nil)
		return
	}

	inst, err := e.installs.Installation(ctx, ev.InstallationID)
	if err != nil {
		e.fail(ctx, rec, h.ID(), 0, fmt.Errorf("resolving installation: %w", err))
		return
	}

	start := time.Now()
	res, err := e.execute(ctx, h, rec, inst)
	elapsed := time.Since(start)

	if err != nil {
		// Dead-letters are deliveries that burned through their retry
		// budget; permanent first-attempt failures are not counted.
		if retryable(err) {
			deadLetterCounter.Inc()
		}
		e.fail(ctx, rec, h.ID(), elapsed, err)
		return
	}

	run := &ledger.Run{
		RecordID: rec.ID,
		Handler:  h.ID(),
		Status:   res.Status,
		Summary:  res.Summary,
		Cause:    res.Cause,
		Duration: elapsed,
	}
	settledDone := e.settle(ctx, rec, run, res.Findings, res.Score, nil)

	if settledDone && inst.Features.EmailReports &&
		(run.Status == ledger.RunDone || run.Status == ledger.RunPartial) {
		if err := e.opts.Notifier.NotifyRunCompleted(ctx, &Notification{Record: rec, Run: run}); err != nil {
			log.With("error", err.Error()).Warn("Run notification failed")
		}
	}
}

// execute runs the handler with bounded exponential backoff. Only
// transient failures retry; permission and other permanent failures
// surface immediately.
func (e *Engine) execute(ctx context.Context, h handlers.Handler, rec *ledger.Record, inst *fossconfig.Installation) (*handlers.Result, error) {
	backoff := retry.NewExponential(e.opts.BackoffBase)
	backoff = retry.WithCappedDuration(e.opts.BackoffCap, backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(e.opts.MaxAttempts-1), backoff)

	var res *handlers.Result
	first := true
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !first {
			retryCounter.Inc()
		}
		first = false
		if _, err := e.store.IncrementAttempts(ctx, rec.ID); err != nil {
			return err
		}

		hctx, cancel := context.WithTimeout(ctx, e.opts.HandlerTimeout)
		defer cancel()

		var err error
		res, err = h.Handle(hctx, rec.Event, inst)
		if err == nil {
			return nil
		}
		if retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return res, err
}

// retryable reports whether a handler failure should consume another
// attempt. Provider transience drives retries; authorization failures
// never do.
func retryable(err error) bool {
	if errors.Is(err, actuator.ErrPermissionDenied) {
		return false
	}
	return gateway.IsTransient(err)
}

func (e *Engine) fail(ctx context.Context, rec *ledger.Record, handlerID string, elapsed time.Duration, cause error) {
	run := &ledger.Run{
		RecordID: rec.ID,
		Handler:  handlerID,
		Status:   ledger.RunFailed,
		Cause:    cause.Error(),
		Duration: elapsed,
	}
	e.settle(ctx, rec, run, nil, nil, cause)
}

// settle persists the run and moves the record out of processing,
// reporting whether it settled as done. cause non-nil parks the record as
// failed. A record is never marked done without its run on disk: a run
// persistence failure parks it as failed for replay instead.
func (e *Engine) settle(ctx context.Context, rec *ledger.Record, run *ledger.Run, findings []ledger.Finding, score *ledger.ScoreCard, cause error) bool {
	log := clog.FromContext(ctx)

	if err := e.store.SaveRun(ctx, run); err != nil {
		log.With("error", err.Error()).Error("Persisting run failed")
		if cause == nil {
			cause = fmt.Errorf("persisting run: %w", err)
		}
	} else {
		if len(findings) > 0 {
			if err := e.store.AttachFindings(ctx, run.ID, findings); err != nil {
				log.With("error", err.Error()).Error("Attaching findings failed")
			}
		}
		if score != nil {
			if err := e.store.AttachScoreCard(ctx, run.ID, score); err != nil {
				log.With("error", err.Error()).Error("Attaching score card failed")
			} else if rec.Event != nil && rec.Event.SenderLogin != "" {
				metric := &ledger.DeveloperMetric{
					InstallationID:  rec.Event.InstallationID,
					RepoFullName:    rec.Event.RepoFullName,
					Login:           rec.Event.SenderLogin,
					RunID:           run.ID,
					Correctness:     score.Correctness,
					Readability:     score.Readability,
					Maintainability: score.Maintainability,
					Overall:         score.Overall,
				}
				if err := e.store.RecordDeveloperMetric(ctx, metric); err != nil {
					log.With("error", err.Error()).Error("Recording developer metric failed")
				}
			}
		}
	}

	to := ledger.StateDone
	if cause != nil {
		to = ledger.StateFailed
	}
	if _, err := e.store.Transition(ctx, rec.ID, ledger.StateProcessing, to, cause); err != nil {
		log.With("error", err.Error()).Error("Settling record failed")
		return false
	}

	status := run.Status
	if cause != nil {
		status = ledger.RunFailed
	}
	processedCounter.WithLabelValues(string(status)).Inc()
	if cause != nil {
		log.With("cause", cause.Error()).Warn("Delivery failed")
		return false
	}
	log.With("status", string(run.Status)).Info("Delivery resolved")
	return true
}
