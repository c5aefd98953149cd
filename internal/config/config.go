// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// クリーニング設定
	OutputDir      string        // 出力フォルダの既定値（CLIの --output 未指定時）
	TempDir        string        // PDF一時ファイルの作成先
	PDFMaxAttempts int           // PDF保存の最大試行回数
	PDFRetryDelay  time.Duration // PDF保存リトライ間隔

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // console または json

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// アップロード制限
	MaxFileSize      int64  // 単一ファイルの最大サイズ（バイト）
	WorkDir          string // ジョブ作業ディレクトリのルート
	JobExpireMinutes int    // ジョブの有効期限（分）

	// ジョブ/キュー設定
	QueueRedisURL       string // Asynq用Redis接続URL
	AsyncThresholdBytes int64  // 同期処理から非同期へ切り替えるサイズ閾値（0で無効）
	JobResultBaseURL    string // 結果ファイル取得用のベースURL
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		OutputDir:      getEnv("OUTPUT_DIR", ""),
		TempDir:        getEnv("TEMP_DIR", os.TempDir()),
		PDFMaxAttempts: getEnvAsInt("PDF_MAX_ATTEMPTS", 3),
		PDFRetryDelay:  time.Duration(getEnvAsInt("PDF_RETRY_DELAY_MS", 500)) * time.Millisecond,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize:      getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		WorkDir:          getEnv("WORK_DIR", filepath.Join(os.TempDir(), "meta-clean")),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 10),

		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", ""),
		AsyncThresholdBytes: getEnvAsInt64("ASYNC_THRESHOLD_BYTES", 50*1024*1024), // 50MB
		JobResultBaseURL:    getEnv("JOB_RESULT_BASE_URL", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.PDFMaxAttempts < 1 {
		return fmt.Errorf("PDF_MAX_ATTEMPTS must be at least 1 (got %d)", c.PDFMaxAttempts)
	}
	if c.PDFRetryDelay < 0 {
		return fmt.Errorf("PDF_RETRY_DELAY_MS must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json (got %q)", c.LogFormat)
	}

	// 非同期処理を使う本番環境では Redis が必須
	if c.GinMode == "release" && c.AsyncThresholdBytes > 0 && c.QueueRedisURL == "" {
		return fmt.Errorf("QUEUE_REDIS_URL is required in release mode when ASYNC_THRESHOLD_BYTES > 0")
	}

	return nil
}

// AsyncEnabled は大きなアップロードをキュー経由で処理するかを返します。
func (c *Config) AsyncEnabled() bool {
	return c.AsyncThresholdBytes > 0 && c.QueueRedisURL != ""
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
