package service

import "path/filepath"

type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

func (w workspace) metaPath() string {
	return filepath.Join(w.dir, metaFilename)
}
