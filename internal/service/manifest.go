package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/meta-clean/internal/cleaner"
)

const (
	manifestFilename = "manifest.json"
	metaFilename     = "meta.json"
)

// JobManifest はジョブの実行に必要な情報を保持します。
type JobManifest struct {
	JobID     string    `json:"jobId"`
	File      JobFile   `json:"file"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobFile はジョブ入力ファイルのメタデータを表します。
type JobFile struct {
	StoredName   string           `json:"storedName"`
	OriginalName string           `json:"originalName"`
	Size         int64            `json:"size"`
	Format       cleaner.FormatID `json:"format"`
}

func toJobFile(sf storedFile) JobFile {
	return JobFile{
		StoredName:   filepath.Base(sf.path),
		OriginalName: sf.originalName,
		Size:         sf.size,
		Format:       sf.format,
	}
}

func storedFileFromManifest(ws workspace, manifest *JobManifest) storedFile {
	return storedFile{
		path:         filepath.Join(ws.inDir, manifest.File.StoredName),
		originalName: manifest.File.OriginalName,
		size:         manifest.File.Size,
		format:       manifest.File.Format,
	}
}

func writeManifest(jobDir string, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	return writeJSON(filepath.Join(jobDir, manifestFilename), manifest)
}

func loadManifest(jobDir string) (*JobManifest, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.File.StoredName == "" {
		return nil, fmt.Errorf("manifest has no input file")
	}
	return &manifest, nil
}
