package ooxml

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yourusername/meta-clean/internal/cleanerr"
)

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\r\n"

// Stripper は1種類の文書パッケージからコアプロパティと拡張プロパティを取り除きます。
type Stripper struct {
	kind   Kind
	logger zerolog.Logger
}

// NewStripper は kind 用の Stripper を返します。
func NewStripper(kind Kind, logger zerolog.Logger) *Stripper {
	return &Stripper{kind: kind, logger: logger}
}

// Kind は対象の文書種別を返します。
func (s *Stripper) Kind() Kind {
	return s.kind
}

// Inspect は input をパッケージとして読み込み、構造を返します。
func Inspect(input string, kind Kind) (*Package, error) {
	zr, err := zip.OpenReader(input)
	if err != nil {
		return nil, openError(input, "", kind, err)
	}
	defer zr.Close()

	pkg, err := readPackage(&zr.Reader, kind)
	if err != nil {
		return nil, openError(input, "", kind, err)
	}
	return pkg, nil
}

// Strip は input のパーツを output へそのままコピーし、プロパティパーツだけを除外します。
// 既存の output は上書きされ、失敗時には書きかけの output を削除します。
func (s *Stripper) Strip(ctx context.Context, input, output string) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	zr, err := zip.OpenReader(input)
	if err != nil {
		return openError(input, output, s.kind, err)
	}
	defer zr.Close()

	pkg, err := readPackage(&zr.Reader, s.kind)
	if err != nil {
		return openError(input, output, s.kind, err)
	}

	if err := ctx.Err(); err != nil {
		return cleanerr.Unexpected(input, output, err)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return cleanerr.Unexpected(input, output, fmt.Errorf("create output directory: %w", err))
	}

	out, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return cleanerr.Unexpected(input, output, fmt.Errorf("create output package: %w", err))
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(output)
		}
	}()

	zw := zip.NewWriter(out)
	if err := writePackage(zw, zr.File, pkg); err != nil {
		return cleanerr.Unexpected(input, output, err)
	}
	if err := zw.Close(); err != nil {
		return cleanerr.Unexpected(input, output, fmt.Errorf("finalize output package: %w", err))
	}
	if err := out.Close(); err != nil {
		return cleanerr.Unexpected(input, output, fmt.Errorf("close output package: %w", err))
	}

	s.logger.Debug().
		Str("input", input).
		Str("output", output).
		Stringer("kind", s.kind).
		Int("parts", len(pkg.Parts)).
		Strs("removed", pkg.MetadataParts).
		Msg("package metadata stripped")
	return nil
}

// writePackage は元の並び順を保ったまま、コピー対象のエントリを圧縮データのまま書き出します。
// プロパティパーツを除いた場合に限り、[Content_Types].xml と _rels/.rels を再生成します。
func writePackage(zw *zip.Writer, files []*zip.File, pkg *Package) error {
	rewrite := len(pkg.MetadataParts) > 0

	for _, f := range files {
		if strings.HasSuffix(f.Name, "/") || !pkg.keep(f.Name) {
			continue
		}

		name := strings.ToLower(strings.TrimPrefix(f.Name, "/"))
		switch {
		case rewrite && name == strings.ToLower(contentTypesName):
			if err := writeXML(zw, f, pkg.strippedContentTypes()); err != nil {
				return err
			}
		case rewrite && name == rootRelsName:
			if err := writeXML(zw, f, pkg.strippedRootRels()); err != nil {
				return err
			}
		default:
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copy part %s: %w", f.Name, err)
			}
		}
	}
	return nil
}

func writeXML(zw *zip.Writer, src *zip.File, v any) error {
	body, err := xml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", src.Name, err)
	}

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     src.Name,
		Method:   zip.Deflate,
		Modified: src.Modified,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", src.Name, err)
	}

	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration)
	buf.Write(body)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", src.Name, err)
	}
	return nil
}

func (p *Package) strippedContentTypes() contentTypes {
	out := contentTypes{Defaults: p.types.Defaults}
	for _, o := range p.types.Overrides {
		if p.isMetadata(strings.TrimPrefix(o.PartName, "/")) {
			continue
		}
		out.Overrides = append(out.Overrides, o)
	}
	return out
}

func (p *Package) strippedRootRels() relationships {
	var out relationships
	for _, rel := range p.rootRels.Items {
		if _, ok := metadataRelTypes[rel.Type]; ok {
			continue
		}
		out.Items = append(out.Items, rel)
	}
	return out
}

func openError(input, output string, kind Kind, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return cleanerr.New(cleanerr.CodeInputNotFound, input, output, "input file does not exist", err)
	}
	return cleanerr.New(cleanerr.CodePackageOpen, input, output,
		fmt.Sprintf("not a valid %s package", kind), err)
}
