package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourusername/meta-clean/internal/config"
	"github.com/yourusername/meta-clean/internal/jobs"
	"github.com/yourusername/meta-clean/internal/service"
)

type cleanJobScheduler struct {
	manager *jobs.Manager
}

func (s *cleanJobScheduler) Schedule(ctx context.Context, jobID string) error {
	_, err := s.manager.Enqueue(ctx, &jobs.TaskPayload{JobID: jobID})
	return err
}

func setupJobs(cfg *config.Config, svc *service.Service, logger zerolog.Logger) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg, svc, store, logger)
}

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued upload jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.QueueRedisURL == "" {
				return errors.New("QUEUE_REDIS_URL is required for the worker")
			}
			svc, err := service.NewService(a.cfg, a.newCleaner(), a.logger)
			if err != nil {
				return err
			}
			manager, err := setupJobs(a.cfg, svc, a.logger)
			if err != nil {
				return err
			}
			defer manager.Shutdown(context.Background())

			a.logger.Info().Msg("worker started")
			// Run は SIGTERM/SIGINT を受けるまで戻らない
			return manager.Run()
		},
	}
}

func jobStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := manager.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		payload := gin.H{
			"jobId":    record.JobID,
			"status":   record.Status,
			"attempts": record.Attempts,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
				"message": record.Progress.Message,
			},
			"updatedAt": record.UpdatedAt,
			"expiresAt": record.ExpiresAt,
		}
		if record.DownloadURL != "" {
			payload["downloadUrl"] = record.DownloadURL
		}
		if record.Meta != nil {
			payload["meta"] = record.Meta
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}
