package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/samotage/claude-monitor/internal/activity"
	"github.com/samotage/claude-monitor/internal/backend"
	"github.com/samotage/claude-monitor/internal/config"
	"github.com/samotage/claude-monitor/internal/corrlog"
	"github.com/samotage/claude-monitor/internal/logging"
	"github.com/samotage/claude-monitor/internal/notify"
	"github.com/samotage/claude-monitor/internal/tracker"
	"github.com/samotage/claude-monitor/internal/web"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor sessions continuously and serve the HTTP API",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("addr", "", "HTTP listen address (overrides config)")
	watchCmd.Flags().Duration("interval", 0, "poll interval (overrides config)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, cfgPath := loadConfig()

	stateDir, err := config.Dir()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		LogDir: stateDir,
		Level:  logLevel(cfg.Debug),
		Debug:  cfg.Debug,
	})
	defer logging.Shutdown()

	logPath, err := cfg.LogPath()
	if err != nil {
		return err
	}
	sink, err := corrlog.NewAppender(logPath, cfg.Log.Retention, cfg.Log.DebugAppends)
	if err != nil {
		return err
	}

	be, err := backend.New(cfg.Backend, sink)
	if err != nil {
		return err
	}
	patterns, err := cfg.ResolvePatterns()
	if err != nil {
		return fmt.Errorf("compile patterns: %w", err)
	}

	tr := tracker.New(tracker.Options{
		Backend:        be,
		Classifier:     activity.NewClassifier(cfg.Tool, patterns),
		Sink:           sink,
		StallThreshold: cfg.StallThreshold(),
	})
	defer tr.Dispose()

	interval := cfg.PollInterval()
	if flagInterval, _ := cmd.Flags().GetDuration("interval"); flagInterval > 0 {
		interval = flagInterval
	}
	scanner := tracker.NewScanner(tr, interval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config reload: recompile patterns, re-probe backends.
	if cfgPath != "" {
		watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
			if rp, err := next.ResolvePatterns(); err == nil {
				tr.SetClassifier(activity.NewClassifier(next.Tool, rp))
			}
			backend.ResetProbes()
		})
		if err == nil {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// Transition notifications.
	if cfg.Notify.Enabled {
		notifier := notify.New(notify.Options{
			StateDir:     stateDir,
			Command:      cfg.Notify.Command,
			DedupeWindow: time.Duration(cfg.Notify.DedupeWindowSeconds) * time.Second,
		})
		reports, cancel := scanner.Subscribe()
		defer cancel()
		go func() {
			for report := range reports {
				titles := make(map[string]string, len(report.Sessions))
				for _, s := range report.Sessions {
					titles[s.Session.ID] = s.Session.Title
				}
				notifier.Observe(report.Transitions, titles)
				notifier.ObserveStalled(report.Stalled, titles)
			}
		}()
	}

	// SIGQUIT dumps the in-memory log ring for post-mortem debugging.
	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, syscall.SIGQUIT)
	go func() {
		for range quitCh {
			path := filepath.Join(stateDir, fmt.Sprintf("ringdump-%d.log", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err == nil {
				fmt.Fprintf(os.Stderr, "ring buffer dumped to %s\n", path)
			}
		}
	}()

	addr := cfg.Web.Addr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	errCh := make(chan error, 1)
	var server *web.Server
	if addr != "" {
		server = web.NewServer(web.Config{
			ListenAddr:         addr,
			Tracker:            tr,
			Scanner:            scanner,
			RateLimitPerSecond: cfg.Web.RateLimitPerSecond,
		})
		go func() { errCh <- server.Start() }()
		fmt.Printf("claude-monitor watching via %s, API on http://%s\n", be.Kind(), addr)
	} else {
		fmt.Printf("claude-monitor watching via %s\n", be.Kind())
	}

	go scanner.Run(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func logLevel(debug bool) string {
	if debug {
		return "debug"
	}
	return "info"
}
