package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groblegark/warden/internal/automod"
	"github.com/groblegark/warden/internal/config"
	"github.com/groblegark/warden/internal/directory"
	"github.com/groblegark/warden/internal/events"
	"github.com/groblegark/warden/internal/gatekeeper"
	"github.com/groblegark/warden/internal/lockdown"
	"github.com/groblegark/warden/internal/raid"
	"github.com/groblegark/warden/internal/reconcile"
	"github.com/groblegark/warden/internal/server"
	"github.com/groblegark/warden/internal/snapshot"
	"github.com/groblegark/warden/internal/store/postgres"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the warden engine",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an HTTP client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Connect to Postgres.
		st, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		// External directory client.
		dir := directory.NewHTTPDirectory(cfg.DirectoryURL, cfg.DirectoryKey)

		// Event publisher.
		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (WARDEN_NATS_URL not set)")
		}

		// Engine components.
		alerter := events.NewAlerter(publisher, logger)
		reconciler := reconcile.New(st, dir, alerter, logger, reconcile.Config{
			Tick:  cfg.ReconcileTick,
			Rate:  cfg.MutationRate,
			Burst: cfg.MutationBurst,
		})
		gate := gatekeeper.New(st, reconciler, logger, cfg.VerifyWindow)
		locks := lockdown.New(st, dir, reconciler, logger)
		detector := raid.New(0, 0)
		checkers := automod.NewCheckers()

		startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
		// Restore raid state for sessions that were active at shutdown so
		// an ongoing burst does not re-trigger the response.
		sessions, err := st.AllSessions(startupCtx)
		if err != nil {
			cancelStartup()
			publisher.Close()
			st.Close()
			return err
		}
		for _, sess := range sessions {
			if sess.Active() {
				detector.MarkActive(sess.GuildID)
				logger.Info("restored active gatekeeper session", "guild_id", sess.GuildID)
			}
		}
		// Drain work interrupted by the previous shutdown before serving.
		reconciler.Pass(startupCtx)
		cancelStartup()

		// Reconciler loop.
		reconcileCtx, stopReconciler := context.WithCancel(context.Background())
		reconcileDone := make(chan struct{})
		go func() {
			defer close(reconcileDone)
			if err := reconciler.Run(reconcileCtx); err != nil {
				logger.Error("reconciler error", "err", err)
			}
		}()

		// Event dispatcher, when a feed is configured.
		var (
			dispatchCancel context.CancelFunc
			dispatchDone   chan struct{}
		)
		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create event subscriber", "err", err)
			} else {
				d := events.NewDispatcher(sub, publisher, st, detector, checkers, gate, locks, reconciler, logger)
				var dispatchCtx context.Context
				dispatchCtx, dispatchCancel = context.WithCancel(context.Background())
				dispatchDone = make(chan struct{})
				go func() {
					defer close(dispatchDone)
					if err := d.Run(dispatchCtx); err != nil {
						logger.Error("dispatcher error", "err", err)
					}
					sub.Close()
				}()
				logger.Info("event dispatcher started")
			}
		}

		// HTTP operator surface.
		wardenServer := server.NewWardenServer(st, gate, locks, logger)
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: wardenServer.NewHTTPHandler(cfg.AuthToken),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Snapshot scheduler if any destinations are configured.
		var scheduler *snapshot.Scheduler
		if cfg.SnapshotInterval > 0 {
			var dests []snapshot.Destination

			if cfg.SnapshotS3Bucket != "" {
				s3Dest, err := snapshot.NewS3Destination(
					context.Background(),
					cfg.SnapshotS3Bucket,
					cfg.SnapshotS3Key,
					cfg.SnapshotS3Region,
					cfg.SnapshotS3Endpt,
				)
				if err != nil {
					logger.Error("failed to create S3 snapshot destination", "err", err)
				} else {
					dests = append(dests, s3Dest)
					logger.Info("snapshot S3 destination enabled", "bucket", cfg.SnapshotS3Bucket, "key", cfg.SnapshotS3Key)
				}
			}

			if cfg.SnapshotFile != "" {
				dests = append(dests, snapshot.NewFileDestination(cfg.SnapshotFile))
				logger.Info("snapshot file destination enabled", "path", cfg.SnapshotFile)
			}

			if len(dests) > 0 {
				scheduler = snapshot.NewScheduler(st, dests, cfg.SnapshotInterval, logger)
				scheduler.Start()
				logger.Info("snapshot scheduler started", "interval", cfg.SnapshotInterval)
			}
		}

		logger.Info("warden started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown. Stop intake first, then the reconciler, so
		// the final passes run against a quiesced queue.
		if dispatchCancel != nil {
			dispatchCancel()
			<-dispatchDone
			logger.Info("event dispatcher stopped")
		}

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("snapshot scheduler stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		stopReconciler()
		<-reconcileDone
		logger.Info("reconciler stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
