/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the FOSSMate automation service: webhook ingress,
// the delivery worker pool, and the metrics endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/fossmate/actuator"
	"chainguard.dev/fossmate/engine"
	"chainguard.dev/fossmate/fossconfig"
	"chainguard.dev/fossmate/gateway"
	"chainguard.dev/fossmate/handlers"
	"chainguard.dev/fossmate/ingress"
	"chainguard.dev/fossmate/ledger"
	"chainguard.dev/fossmate/retrieval"
	"chainguard.dev/fossmate/workqueue"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := clog.FromContext(ctx)

	var cfg fossconfig.Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "failed to process config: %v", err)
	}

	// Inference route: primary plus optional fallback.
	specs := []gateway.Spec{{
		Model:          cfg.Model,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
	}}
	if cfg.FallbackModel != "" {
		specs = append(specs, gateway.Spec{
			Model:   cfg.FallbackModel,
			APIKey:  cfg.FallbackAPIKey,
			BaseURL: cfg.FallbackBaseURL,
		})
	}
	route, err := gateway.Route(specs...)
	if err != nil {
		clog.FatalContextf(ctx, "failed to build inference route: %v", err)
	}
	gw, err := gateway.New(cfg.CallTimeout, route...)
	if err != nil {
		clog.FatalContextf(ctx, "failed to create gateway: %v", err)
	}
	log.With("primary", gw.Primary()).With("providers", len(route)).Info("Inference route configured")

	store := ledger.NewInMemory()
	queue := workqueue.New(cfg.QueueDepth)
	installs := fossconfig.NewInstallations()

	gh := actuator.NewGitHub(github.NewClient(nil).WithAuthToken(os.Getenv("GITHUB_TOKEN")), cfg.CheckName)

	opts := handlers.Options{
		Inference:  gw,
		Actuator:   gh,
		Index:      retrieval.NewInMemory(),
		Handle:     cfg.AssistantHandle,
		RetrievalK: cfg.RetrievalK,
	}

	registry := handlers.NewRegistry()
	issue := handlers.NewIssueHandler(opts)
	registry.Register("issues", "opened", issue)
	comment := handlers.NewCommentHandler(opts)
	registry.Register("issue_comment", "created", comment)
	pr := handlers.NewPullRequestHandler(opts, gh)
	for _, action := range []string{"opened", "reopened", "synchronize"} {
		registry.Register("pull_request", action, pr)
	}

	eng := engine.New(store, queue, registry, installs, engine.Options{
		Workers:        cfg.Workers,
		HandlerTimeout: cfg.HandlerTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.RetryBackoff,
		BackoffCap:     cfg.RetryCap,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           ingress.NewServer(store, queue, cfg.WebhookSecret).Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metrics := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.With("workers", cfg.Workers).Info("Starting delivery workers")
		return eng.Run(ctx)
	})
	eg.Go(func() error {
		log.With("port", cfg.Port).Info("Starting webhook ingress")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		log.With("port", cfg.MetricsPort).Info("Starting metrics endpoint")
		if err := metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down, draining in-flight deliveries")
		queue.Shutdown()

		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		_ = metrics.Shutdown(sctx)
		return nil
	})

	if err := eg.Wait(); err != nil {
		clog.FatalContextf(ctx, "server failed: %v", err)
	}
	log.Info("Shutdown complete")
}
