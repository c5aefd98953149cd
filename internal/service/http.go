package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/meta-clean/internal/cleanerr"
)

// JobRunner はジョブを実行できるサービスが実装します。
type JobRunner interface {
	RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error)
	DiscardJob(jobID string) error
}

// CleanService はメタデータ除去ジョブの準備と実行を提供します。
type CleanService interface {
	JobRunner
	PrepareCleanJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error)
}

// ResultOpener は保存済みの成果物を開きます。
type ResultOpener interface {
	OpenResultFile(jobID string) (*Result, *os.File, error)
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, jobID string) error
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
}

// CleanHandler は POST /api/clean のハンドラーを返します。
func CleanHandler(svc CleanService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		manifest, err := svc.PrepareCleanJob(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if shouldProcessAsync(manifest, opts) {
			if err := opts.Scheduler.Schedule(c.Request.Context(), manifest.JobID); err != nil {
				if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
					err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
				}
				respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
			return
		}

		result, err := svc.RunJob(c.Request.Context(), manifest.JobID, nil)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer result.Cleanup()

		if err := streamResult(c, result); err != nil {
			respondWithError(c, err)
		}
	}
}

// JobDownloadHandler は GET /api/jobs/:id/download のハンドラーを返します。
func JobDownloadHandler(svc ResultOpener) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		result, file, err := svc.OpenResultFile(jobID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "ジョブの成果物が見つかりませんでした。",
				})
				return
			}
			respondWithError(c, err)
			return
		}
		defer file.Close()

		writeResult(c, result, file)
	}
}

func shouldProcessAsync(manifest *JobManifest, opts HandlerOptions) bool {
	if manifest == nil || opts.Scheduler == nil {
		return false
	}
	return opts.AsyncThresholdBytes > 0 && manifest.File.Size > opts.AsyncThresholdBytes
}

// statusFor は除去処理のエラー種別を HTTP ステータスと利用者向けメッセージに対応付けます。
func statusFor(code cleanerr.Code) (int, string) {
	switch code {
	case cleanerr.CodeUnsupportedFormat:
		return http.StatusBadRequest, "対応していないファイル形式です。"
	case cleanerr.CodeInputNotFound, cleanerr.CodeInputAccess:
		return http.StatusBadRequest, "入力ファイルを読み込めませんでした。"
	case cleanerr.CodePackageOpen:
		return http.StatusUnprocessableEntity, "Office文書として開けませんでした。ファイルが破損していないか確認してください。"
	case cleanerr.CodeCorruptOrProtectedPDF:
		return http.StatusUnprocessableEntity, "PDFが破損しているか、パスワードで保護されています。"
	case cleanerr.CodePDFWriteExhausted:
		return http.StatusServiceUnavailable, "PDFの書き込みに失敗しました。時間をおいて再度お試しください。"
	default:
		return http.StatusInternalServerError, "サーバー内部でエラーが発生しました。"
	}
}

func respondWithError(c *gin.Context, err error) {
	var (
		apiErr   *Error
		cleanErr *cleanerr.Error
	)
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		if apiErr.Code == "LIMIT_EXCEEDED" {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.As(err, &cleanErr):
		status, message := statusFor(cleanErr.Code)
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		c.JSON(status, gin.H{
			"code":    string(cleanErr.Code),
			"message": message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("ファイルを選択してください。")
	}
	for _, key := range []string{"file", "file[]", "files", "files[]"} {
		if files := form.File[key]; len(files) > 0 {
			return files[0], nil
		}
	}
	return nil, errors.New("ファイルを選択してください。")
}

func streamResult(c *gin.Context, result *Result) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("処理結果の読み込みに失敗しました: %w", err)
	}
	defer file.Close()

	writeResult(c, result, file)
	return nil
}

func writeResult(c *gin.Context, result *Result, body io.Reader) {
	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, body, nil)
}
