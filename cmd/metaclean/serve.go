package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourusername/meta-clean/internal/config"
	"github.com/yourusername/meta-clean/internal/jobs"
	"github.com/yourusername/meta-clean/internal/service"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var embeddedWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP upload API",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.NewService(a.cfg, a.newCleaner(), a.logger)
			if err != nil {
				return err
			}

			var manager *jobs.Manager
			if a.cfg.AsyncEnabled() {
				manager, err = setupJobs(a.cfg, svc, a.logger)
				if err != nil {
					return fmt.Errorf("failed to set up job queue: %w", err)
				}
				defer manager.Shutdown(context.Background())
				if embeddedWorker {
					manager.StartWorkers()
				}
			}

			router := newRouter(a.cfg, a.logger, svc, manager)
			return runServer(cmd.Context(), a.cfg, a.logger, router)
		},
	}
	cmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", true, "process queued jobs inside the API process")
	return cmd
}

func newRouter(cfg *config.Config, logger zerolog.Logger, svc *service.Service, manager *jobs.Manager) *gin.Engine {
	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(cfg.CORSAllowedOrigins)
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", handleHealth)

	opts := service.HandlerOptions{}
	if manager != nil {
		opts.Scheduler = &cleanJobScheduler{manager: manager}
		opts.AsyncThresholdBytes = cfg.AsyncThresholdBytes
	}

	api := router.Group("/api")
	{
		api.POST("/clean", service.CleanHandler(svc, opts))
		api.GET("/jobs/:id/download", service.JobDownloadHandler(svc))
		if manager != nil {
			api.GET("/jobs/:id", jobStatusHandler(manager))
		}
	}
	return router
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("mode", cfg.GinMode).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "meta-clean-api",
		"version": "0.1.0",
	})
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Info()
		if len(c.Errors) > 0 {
			event = logger.Error().Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	return origins
}
