// Package jobs は大きなアップロードを Asynq のキューで非同期に処理し、状態を Redis に保存します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/yourusername/meta-clean/internal/cleanerr"
	"github.com/yourusername/meta-clean/internal/config"
	"github.com/yourusername/meta-clean/internal/service"
)

const (
	taskTypeClean = "metaclean:clean"
	queueName     = "clean"
)

// Runner はジョブIDから除去処理を実行します。
type Runner interface {
	RunJob(ctx context.Context, jobID string, reporter service.ProgressReporter) (*service.Result, error)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  *Store
	runner Runner
	logger zerolog.Logger
}

// TaskPayload は除去ジョブのペイロードです。
type TaskPayload struct {
	JobID    string `json:"jobId"`
	Filename string `json:"filename,omitempty"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner Runner, store *Store, logger zerolog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	logger = logger.With().Str("component", "jobs").Logger()
	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger:   asynqLogger{logger: logger},
			LogLevel: asynq.WarnLevel,
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		runner: runner,
		logger: logger,
	}
	mux.HandleFunc(taskTypeClean, manager.handleCleanTask)
	return manager, nil
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブをキューに投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}

	record := &Record{
		JobID:    payload.JobID,
		Filename: payload.Filename,
		Status:   StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   service.StageQueued,
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskTypeClean, body, asynq.Queue(queueName))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1), asynq.TaskID(payload.JobID))
	if err != nil {
		return "", err
	}
	m.logger.Info().Str("job_id", payload.JobID).Str("task_id", info.ID).Msg("job enqueued")
	return info.ID, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleCleanTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("%w: missing jobId in payload", asynq.SkipRetry)
	}

	if err := m.store.MarkRunning(ctx, payload.JobID); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			// 期限切れで記録が消えたジョブは再試行しても成功しない
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}

	result, err := m.runner.RunJob(ctx, payload.JobID, func(stage string, percent int) {
		if err := m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Stage:   stage,
			Percent: percent,
		}); err != nil {
			m.logger.Warn().Err(err).Str("job_id", payload.JobID).Msg("failed to update progress")
		}
	})
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", payload.JobID).Msg("job failed")
		return m.failJobWithError(ctx, payload.JobID, err)
	}
	return m.finishJob(ctx, payload.JobID, result)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, result *service.Result) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	return m.store.MarkDone(ctx, jobID, m.buildDownloadURL(result), result.Meta)
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	info := &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}

	var (
		apiErr   *service.Error
		cleanErr *cleanerr.Error
	)
	switch {
	case errors.As(err, &apiErr):
		info = &ErrorInfo{Code: apiErr.Code, Message: apiErr.Message}
	case errors.As(err, &cleanErr):
		info = &ErrorInfo{Code: string(cleanErr.Code), Message: cleanErr.Message}
	}
	return m.store.MarkFailed(ctx, jobID, info)
}

func (m *Manager) buildDownloadURL(result *service.Result) string {
	base := m.cfg.JobResultBaseURL
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", result.JobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), result.JobID, url.PathEscape(result.OutputFilename))
}
