package service

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/yourusername/meta-clean/internal/cleaner"
	"github.com/yourusername/meta-clean/internal/ooxml"
	"github.com/yourusername/meta-clean/internal/pdf"
)

// PrepareCleanJob はアップロードを作業ディレクトリに保存し、マニフェストを書き出します。
func (s *Service) PrepareCleanJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}

	stored, err := s.storeMultipartFile(ctx, file, ws.inDir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		File:      toJobFile(stored),
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}
	return manifest, nil
}

// CleanMultipart はアップロードを同期的に処理します。
func (s *Service) CleanMultipart(ctx context.Context, file *multipart.FileHeader) (*Result, error) {
	manifest, err := s.PrepareCleanJob(ctx, file)
	if err != nil {
		return nil, err
	}
	return s.RunJob(ctx, manifest.JobID, nil)
}

func (s *Service) executeClean(ctx context.Context, ws workspace, stored storedFile, progress ProgressReporter) (*Result, error) {
	progress.report(StageLoad, 10)

	info, ok := cleaner.Lookup(stored.path)
	if !ok {
		return nil, newError("UNSUPPORTED_FORMAT", "対応していないファイル形式です。", nil)
	}

	meta := &CleanMeta{
		Format: info.ID,
		Source: SourceFileMeta{Name: stored.originalName, Size: stored.size},
	}
	if info.Kind != 0 {
		// 事前に読めない場合は Clean 側で PACKAGE_OPEN として報告される
		if pkg, err := ooxml.Inspect(stored.path, info.Kind); err == nil {
			meta.RemovedParts = pkg.MetadataParts
		}
	} else {
		meta.ClearedFields = append([]string(nil), pdf.InfoFields...)
	}
	progress.report(StageProcess, 30)

	outputPath, err := s.cleaner.Clean(ctx, stored.path, ws.outDir)
	if err != nil {
		return nil, err
	}
	progress.report(StageWrite, 80)

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}
	meta.Output = filepath.Base(outputPath)

	if err := writeJSON(ws.metaPath(), meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleExpiry(ws)
	progress.report(StageCompleted, 100)

	s.logger.Info().
		Str("job_id", ws.jobID).
		Str("format", string(info.ID)).
		Int64("size", outInfo.Size()).
		Msg("upload cleaned")

	return &Result{
		JobID:          ws.jobID,
		OutputPath:     outputPath,
		OutputFilename: meta.Output,
		OutputSize:     outInfo.Size(),
		ContentType:    info.MIMEType,
		Meta:           meta,
		jobDir:         ws.dir,
	}, nil
}
