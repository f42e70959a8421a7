package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skaric/qrdrop/internal/activity"
	"github.com/skaric/qrdrop/internal/clock"
	"github.com/skaric/qrdrop/internal/config"
	"github.com/skaric/qrdrop/internal/limiter"
	"github.com/skaric/qrdrop/internal/notify"
	"github.com/skaric/qrdrop/internal/server"
	"github.com/skaric/qrdrop/internal/session"
)

// sweeper is anything with periodic hygiene work.
type sweeper interface {
	Sweep()
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		baseURL    string
		recordFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the qrdrop HTTP server",
		Long: `Starts the pairing server.

Endpoints:
  POST /session              Create a pairing session
  POST /submit/{id}          Submit a link to a session
  GET  /listen/{id}          SSE notification channel for a session
  GET  /                     Server info
  GET  /health               Health check
  GET  /api/stats            Activity counters
  GET  /dashboard/           Live ops dashboard
  WS   /ws                   WebSocket feed of pairing activity`,
		Example: `  qrdrop serve
  qrdrop serve --addr :9090 --base-url https://drop.example.com
  qrdrop serve --config qrdrop.json --record activity.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-url") {
				cfg.Server.BaseURL = baseURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			clk := clock.NewRealClock()
			store := session.NewMemoryStore(clk)
			sweepers := []sweeper{store}

			createLim, submitLim, closeLimiters, err := buildLimiters(cfg, clk)
			if err != nil {
				return err
			}
			defer closeLimiters()
			for _, lim := range []limiter.Limiter{createLim, submitLim} {
				if sw, ok := lim.(sweeper); ok {
					sweepers = append(sweepers, sw)
				}
			}

			mgr := session.NewManager(store, clk, cfg.Session.TTL, createLim, submitLim)
			watcher := notify.New(store, clk, notify.Config{
				PollInterval: cfg.Session.PollInterval,
				Grace:        cfg.Session.Grace,
				TTL:          cfg.Session.TTL,
			})

			opts := server.Options{
				Hub:      server.NewHub(),
				Activity: activity.New(nil),
			}
			srv := server.New(cfg.Server.Addr, cfg.Server.BaseURL, mgr, watcher, clk, opts)

			log.Printf("Base URL:  %s", cfg.Server.BaseURL)
			log.Printf("Dashboard: http://localhost%s/dashboard/", cfg.Server.Addr)

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go runJanitor(ctx, clk, cfg.Session.SweepInterval, sweepers)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Println("shutting down...")
				if recordFile != "" {
					log.Printf("exporting %d activity events to %s", opts.Activity.Len(), recordFile)
					if err := opts.Activity.ExportFile(recordFile); err != nil {
						log.Printf("error exporting activity: %v", err)
					}
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to JSON config file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "public origin for QR submission URLs")
	cmd.Flags().StringVar(&recordFile, "record", "", "export activity log to JSON file on shutdown")

	return cmd
}

func buildLimiters(cfg config.Config, clk clock.Clock) (createLim, submitLim limiter.Limiter, cleanup func(), err error) {
	switch cfg.Limits.Backend {
	case config.BackendMemory:
		createLim = limiter.NewFixedWindow(cfg.Limits.Create.Rate, cfg.Limits.Create.Window, clk)
		submitLim = limiter.NewFixedWindow(cfg.Limits.Submit.Rate, cfg.Limits.Submit.Window, clk)
		return createLim, submitLim, func() {}, nil

	case config.BackendRedis:
		create, err := limiter.NewRedisLimiter(&cfg.Limits.Redis, "create", cfg.Limits.Create.Rate, cfg.Limits.Create.Window, clk)
		if err != nil {
			return nil, nil, nil, err
		}
		submit, err := limiter.NewRedisLimiter(&cfg.Limits.Redis, "submit", cfg.Limits.Submit.Rate, cfg.Limits.Submit.Window, clk)
		if err != nil {
			_ = create.Close()
			return nil, nil, nil, err
		}
		cleanup = func() {
			_ = create.Close()
			_ = submit.Close()
		}
		return create, submit, cleanup, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown limiter backend %q", cfg.Limits.Backend)
	}
}

// runJanitor periodically sweeps expired sessions and stale limiter
// counters. Correctness never depends on it; it only bounds memory.
func runJanitor(ctx context.Context, clk clock.Clock, interval time.Duration, sweepers []sweeper) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
			for _, s := range sweepers {
				s.Sweep()
			}
		}
	}
}
