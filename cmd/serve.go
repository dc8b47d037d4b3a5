package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/modelgen/internal/events"
	"github.com/sells-group/modelgen/internal/jobs"
	"github.com/sells-group/modelgen/internal/metrics"
	"github.com/sells-group/modelgen/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and job workers",
	Long: `Runs the HTTP API, the worker pool that drains the job queue, and the
watchdog that fails jobs whose worker died. Lifecycle events stream over
/api/events and fan out to NATS and the webhook sink when configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m := metrics.New("modelgen")
		stream := events.NewBroadcaster(cfg.Server.EventBuffer)
		defer stream.Close()

		env, err := initPipeline(ctx, "serve", stream, m)
		if err != nil {
			return err
		}
		defer env.Close()

		runner := jobs.NewRunner(env.Store, env.Pipeline, jobs.RunnerConfig{
			Concurrency:  cfg.Runner.Concurrency,
			PollInterval: time.Duration(cfg.Runner.PollIntervalSecs) * time.Second,
			ClaimBatch:   cfg.Runner.ClaimBatch,
			Metrics:      m,
		})
		watchdog := jobs.NewWatchdog(env.Store, env.Notifier, jobs.WatchdogConfig{
			Interval:   time.Duration(cfg.Watchdog.IntervalSecs) * time.Second,
			StallAfter: time.Duration(cfg.Watchdog.StallAfterSecs) * time.Second,
			Metrics:    m,
		})

		api := server.New(server.Config{AllowedOrigins: cfg.Server.AllowedOrigins}, server.Deps{
			Jobs:    env.Jobs,
			Lineage: env.Lineage,
			Store:   env.Store,
			Stream:  stream,
			Metrics: m,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			// Request contexts inherit ctx, so open event streams end
			// when shutdown starts instead of holding Shutdown to its
			// deadline.
			BaseContext: func(net.Listener) context.Context { return ctx },
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return runner.Run(ctx)
		})
		g.Go(func() error {
			watchdog.Run(ctx)
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutCtx)
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
