package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/api"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/orchestrator"
	"github.com/sells-group/outreach-cli/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, scheduler and job workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ScopeServe); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		settings := scheduler.StoreSettings{
			Store:    env.Store,
			Fallback: scheduler.FromConfig(cfg.Scheduler),
		}

		var wg sync.WaitGroup
		run := func(fn func(ctx context.Context)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn(ctx)
			}()
		}

		run(func(ctx context.Context) {
			adoptOrphans(ctx, env.Orch, time.Duration(cfg.Jobs.HeartbeatSecs)*time.Second)
		})
		run(scheduler.New(env.Orch, settings, cfg.Scheduler.Interval()).Run)
		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.StuckJobMinutes)*time.Minute)
			run(monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring).Run)
		}

		handler := api.New(api.Options{
			Jobs:        env.Orch,
			Store:       env.Store,
			Intake:      env.Intake,
			Settings:    settings,
			Breakers:    env.Breakers,
			CORSOrigins: cfg.Server.CORSOrigins,
		}).Handler()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("owner", env.Orch.Owner()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			wg.Wait()
			return eris.Wrap(err, "server listen")
		}

		wg.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return env.Orch.Shutdown(shutdownCtx)
	},
}

// adoptOrphans attaches jobs left behind by dead processes or created by
// detached commands, at startup and then every interval.
func adoptOrphans(ctx context.Context, o *orchestrator.Orchestrator, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	log := zap.L().With(zap.String("component", "orphans"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := o.ResumeOrphans(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Error("resume orphaned jobs", zap.Error(err))
		case n > 0:
			log.Info("resumed orphaned jobs", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
