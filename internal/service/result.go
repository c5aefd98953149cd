package service

import (
	"sync"

	"github.com/yourusername/meta-clean/internal/cleaner"
)

// Result はメタデータ除去の成果物を表します。
type Result struct {
	JobID          string     `json:"jobId"`
	OutputPath     string     `json:"outputPath"`
	OutputFilename string     `json:"outputFilename"`
	OutputSize     int64      `json:"outputSize"`
	ContentType    string     `json:"contentType"`
	Meta           *CleanMeta `json:"meta,omitempty"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}

// SourceFileMeta は入力ファイルの情報です。
type SourceFileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// CleanMeta は除去処理の内容です。
type CleanMeta struct {
	Format cleaner.FormatID `json:"format"`
	Source SourceFileMeta   `json:"source"`
	Output string           `json:"output"`
	// RemovedParts は OOXML から取り除いたプロパティパーツです。
	RemovedParts []string `json:"removedParts,omitempty"`
	// ClearedFields は PDF で空にした文書情報の項目です。
	ClearedFields []string `json:"clearedFields,omitempty"`
}
