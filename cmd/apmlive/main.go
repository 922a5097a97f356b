package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apmlive/apmlive-go-rewrite/internal/capture"
	"github.com/apmlive/apmlive-go-rewrite/internal/config"
	"github.com/apmlive/apmlive-go-rewrite/internal/export"
	"github.com/apmlive/apmlive-go-rewrite/internal/history"
	"github.com/apmlive/apmlive-go-rewrite/internal/ledger"
	"github.com/apmlive/apmlive-go-rewrite/internal/logging"
	"github.com/apmlive/apmlive-go-rewrite/internal/session"
	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
	"github.com/apmlive/apmlive-go-rewrite/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var demoMode bool

var rootCmd = &cobra.Command{
	Use:     "apmlive",
	Short:   "APMLive - live actions-per-minute meter",
	Long:    `APMLive measures your input rate (actions per minute) during gameplay, shows it live, and exports session statistics`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("APMLive %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recently recorded sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := history.Open(filepath.Join(cfg.DataDir, "sessions.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.Recent(20)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENDED\tDURATION\tACTIONS\tAVG APM\tAPS")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%.1f\n",
				r.EndedAt.Format("2006-01-02 15:04"),
				time.Duration(r.SessionSeconds*float64(time.Second)).Round(time.Second),
				r.TotalActions, r.AverageAPM, r.ActionsPerSecond)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.Flags().BoolVar(&demoMode, "demo", false, "generate synthetic input events instead of waiting for a capture hook")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runApp() error {
	// Baseline logger for early startup; re-initialized once config is known.
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "apmlive"})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "apmlive"})
	log.Info().Str("version", Version).Str("dataDir", cfg.DataDir).Msg("Starting APMLive")

	formats, err := export.ParseFormats(cfg.ExportFormats)
	if err != nil {
		return err
	}

	store, err := history.Open(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return err
	}
	defer store.Close()
	if removed, err := store.Prune(time.Now().Add(-cfg.HistoryRetention)); err != nil {
		log.Warn().Err(err).Msg("Failed to prune session history")
	} else if removed > 0 {
		log.Info().Int64("removed", removed).Msg("Pruned expired session history")
	}

	exporter, err := export.New(cfg)
	if err != nil {
		return err
	}

	sess := session.New(ledger.New(cfg.Window), cfg.PollInterval)
	sess.SetOnStop(func(sum session.Summary) {
		if err := store.Save(history.FromStatistics(sum.ID.String(), sum.StartedAt, sum.EndedAt, sum.Final)); err != nil {
			log.Error().Err(err).Msg("Failed to persist session summary")
		}
		if err := exporter.Submit(sum.Final, formats...); err != nil {
			log.Warn().Err(err).Msg("Final export not queued")
		}
	})

	hub := websocket.NewHub(sess.Latest)
	sess.Subscribe(hub.BroadcastStats)

	if cfg.AutoExportEvery > 0 {
		sess.Subscribe(autoExporter(exporter, formats, cfg.AutoExportEvery))
	}

	watcher, err := config.NewWatcher(cfg, func(r config.Reload) {
		sess.SetWindow(r.Window)
		sess.SetPollInterval(r.PollInterval)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable; runtime reload disabled")
	} else if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Config watcher failed to start")
	} else {
		defer watcher.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := newHTTPServer(cfg, hub, sess, exporter, formats)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sess.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Live view listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if demoMode {
		src := capture.NewSyntheticSource(3, 0.5)
		recorder := capture.NewRecorder(sess)
		g.Go(func() error {
			err := recorder.Run(gctx, src)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		log.Info().Msg("Demo mode: generating synthetic input events")
	}

	// Recording begins immediately; the control endpoints stop/restart it.
	sess.Start()

	err = g.Wait()

	// Final statistics survive shutdown: stop persists and queues the last
	// export, then the queue is drained before the process exits.
	sess.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closeErr := exporter.Close(drainCtx); closeErr != nil {
		log.Error().Err(closeErr).Msg("Export queue not fully drained at shutdown")
	}

	if err != nil {
		log.Error().Err(err).Msg("Shutting down after error")
		return err
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

// autoExporter submits periodic exports from the poll loop, rate-limited so a
// fast poll interval doesn't hammer the disk.
func autoExporter(exporter *export.Exporter, formats []export.Format, every time.Duration) session.Subscriber {
	var last time.Time
	return func(s stats.Statistics) {
		if !last.IsZero() && time.Since(last) < every {
			return
		}
		last = time.Now()
		if err := exporter.Submit(s, formats...); err != nil && !errors.Is(err, export.ErrQueueFull) {
			log.Warn().Err(err).Msg("Periodic export not queued")
		}
	}
}
