package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tbourn/go-atendente/docs"
	httpapi "github.com/tbourn/go-atendente/internal/http"
	"github.com/tbourn/go-atendente/internal/observability"
	"github.com/tbourn/go-atendente/internal/worker"
)

const httpShutdownTimeout = 15 * time.Second

type serveFlags struct {
	WithWorkers bool
}

func (f *serveFlags) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&f.WithWorkers, "with-workers", f.WithWorkers,
		"also run the pipeline workers in this process (always on with the in-process queue)")
}

func newServeCommand(root *rootFlags) *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server: WhatsApp webhook, appointments and dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			// An in-process queue is only drained by workers in the same process.
			runWorkers := f.WithWorkers || cfg.Queue.RedisURL == ""
			role := observability.RoleServer
			if runWorkers {
				role = observability.RoleAll
			}
			setupLogging(cfg, role)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, role)
			if err != nil {
				return err
			}
			defer a.Close()

			var pool *worker.Pool
			if runWorkers {
				if pool, err = a.startWorkers(ctx); err != nil {
					return err
				}
			}

			docs.SwaggerInfo.Version = version

			gin.SetMode(cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, a.db, a.queue, cfg)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           r,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("api_base", cfg.APIBasePath).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
			case serveErr = <-errCh:
				log.Error().Err(serveErr).Msg("http server failed")
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("http server shutdown")
			}
			if pool != nil {
				pool.Stop()
			}
			return serveErr
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
