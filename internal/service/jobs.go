package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/meta-clean/internal/cleaner"
)

// RunJob はジョブIDに対応するメタデータ除去を実行します。
// 失敗時は作業ディレクトリを削除します。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	result, runErr := s.executeClean(ctx, ws, storedFileFromManifest(ws, manifest), reporter)
	if runErr != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			runErr = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", runErr, cleanupErr)
		}
		return nil, runErr
	}
	return result, nil
}

// DiscardJob は未実行ジョブの作業ディレクトリを削除します。
func (s *Service) DiscardJob(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return nil
	}
	return removeDir(s.workspaceFor(jobID).dir)
}

// OpenResultFile はジョブIDに対応する成果物ファイルを開き、Result 情報とファイルハンドルを返します。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required")
	}

	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return nil, nil, err
	}
	info, ok := cleaner.Lookup(manifest.File.StoredName)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported stored file: %s", manifest.File.StoredName)
	}

	outputPath := cleaner.OutputPath(filepath.Join(ws.inDir, manifest.File.StoredName), ws.outDir)
	file, err := os.Open(outputPath)
	if err != nil {
		return nil, nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	return &Result{
		JobID:          jobID,
		OutputPath:     outputPath,
		OutputFilename: filepath.Base(outputPath),
		OutputSize:     stat.Size(),
		ContentType:    info.MIMEType,
		jobDir:         ws.dir,
	}, file, nil
}
