// Package service はアップロードされた文書を作業ディレクトリに保存し、メタデータ除去を実行します。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourusername/meta-clean/internal/cleaner"
	"github.com/yourusername/meta-clean/internal/config"
)

const defaultCleanupMin = 10

// Cleaner はメタデータ除去の実行部です。
type Cleaner interface {
	Clean(ctx context.Context, input, outputFolder string) (string, error)
}

// Error は利用者に返すエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// Service はジョブ単位の作業ディレクトリでメタデータ除去を行います。
type Service struct {
	cfg     *config.Config
	cleaner Cleaner
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService は Service を初期化し、作業ディレクトリのルートを作成します。
func NewService(cfg *config.Config, c Cleaner, logger zerolog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if c == nil {
		return nil, errors.New("cleaner is nil")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	return &Service{
		cfg:     cfg,
		cleaner: c,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *Service) createWorkspace() (workspace, error) {
	ws := s.workspaceFor(uuid.NewString())
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.cfg.WorkDir, filepath.Base(jobID))
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

// scheduleExpiry は有効期限が過ぎた作業ディレクトリを削除します。
func (s *Service) scheduleExpiry(ws workspace) {
	expireMinutes := s.cfg.JobExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = defaultCleanupMin
	}
	time.AfterFunc(time.Duration(expireMinutes)*time.Minute, func() {
		if err := removeDir(ws.dir); err != nil {
			s.logger.Warn().Err(err).Str("job_id", ws.jobID).Msg("failed to remove expired workspace")
		}
	})
}

type storedFile struct {
	path         string
	originalName string
	size         int64
	format       cleaner.FormatID
}

// storeMultipartFile はアップロードを dir に保存し、サイズ・拡張子・内容の形式を検証します。
func (s *Service) storeMultipartFile(ctx context.Context, file *multipart.FileHeader, dir string) (storedFile, error) {
	if file == nil {
		return storedFile{}, newError("INVALID_INPUT", "ファイルを選択してください。", nil)
	}
	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return storedFile{}, newError("LIMIT_EXCEEDED",
			fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", s.cfg.MaxFileSize/(1024*1024)), nil)
	}

	name := sanitizeFilename(file.Filename)
	if name == "" {
		return storedFile{}, newError("INVALID_INPUT", "ファイル名が不正です。", nil)
	}
	info, ok := cleaner.Lookup(name)
	if !ok {
		return storedFile{}, newError("UNSUPPORTED_FORMAT",
			"対応していないファイル形式です（docx / xlsx / pptx / pdf のみ）。", nil)
	}

	if err := ctx.Err(); err != nil {
		return storedFile{}, err
	}

	src, err := file.Open()
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルを開けませんでした: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(dir, name)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}
	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return storedFile{}, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", err)
	}

	mt, err := mimetype.DetectFile(dstPath)
	if err != nil {
		return storedFile{}, fmt.Errorf("ファイル形式の判定に失敗しました: %w", err)
	}
	if !matchesContainer(mt, info.Container) {
		return storedFile{}, newError("INVALID_INPUT",
			fmt.Sprintf("ファイルの内容が %s ではありません（検出: %s）。", info.Name, mt.String()), nil)
	}

	return storedFile{
		path:         dstPath,
		originalName: name,
		size:         written,
		format:       info.ID,
	}, nil
}

// matchesContainer は mt かその親に container が含まれるかを返します。
func matchesContainer(mt *mimetype.MIME, container string) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is(container) {
			return true
		}
	}
	return false
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
