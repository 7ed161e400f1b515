package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tbourn/go-atendente/internal/observability"
)

type workerFlags struct {
	MetricsAddr string
}

func (f *workerFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.MetricsAddr, "metrics-addr", ":9091", "address for /metrics and /health; empty disables")
}

func newWorkerCommand(root *rootFlags) *cobra.Command {
	f := &workerFlags{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the pipeline workers against the Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Queue.RedisURL == "" {
				return errors.New("worker needs REDIS_URL; with the in-process queue use serve")
			}
			setupLogging(cfg, observability.RoleWorker)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, observability.RoleWorker)
			if err != nil {
				return err
			}
			defer a.Close()

			pool, err := a.startWorkers(ctx)
			if err != nil {
				return err
			}

			var srv *http.Server
			if f.MetricsAddr != "" {
				srv = metricsServer(f.MetricsAddr, pool.QueueDepth)
				go func() {
					log.Info().Str("addr", srv.Addr).Msg("metrics listening")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("metrics server failed")
					}
				}()
			}

			<-ctx.Done()
			log.Info().Msg("shutdown signal received")
			if srv != nil {
				_ = srv.Close()
			}
			pool.Stop()
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

// metricsServer exposes Prometheus metrics and a liveness probe reporting
// the queue depth.
func metricsServer(addr string, depth func(context.Context) (int64, error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		n, err := depth(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","queue":"unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","queue_depth":` + strconv.FormatInt(n, 10) + `}`))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
