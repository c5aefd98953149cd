// Package cleaner は拡張子に応じて除去処理を選び、出力パスを決定します。
package cleaner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yourusername/meta-clean/internal/cleanerr"
	"github.com/yourusername/meta-clean/internal/ooxml"
	"github.com/yourusername/meta-clean/internal/pdf"
)

const outputSuffix = "_meta_clean"

// Strategy は1つのフォーマットに対する除去処理です。
type Strategy interface {
	Strip(ctx context.Context, input, output string) error
}

// Options は Cleaner の設定です。PDF.Logger は Logger で上書きされます。
type Options struct {
	PDF    pdf.Options
	Logger zerolog.Logger
}

// Cleaner はフォーマットごとの Strategy へ処理を振り分けます。
type Cleaner struct {
	strategies map[FormatID]Strategy
	logger     zerolog.Logger
}

// New は OOXML 3種と PDF の Strategy を備えた Cleaner を返します。
func New(opts Options) *Cleaner {
	opts.PDF.Logger = opts.Logger
	strategies := make(map[FormatID]Strategy, len(formatInfo))
	for id, info := range formatInfo {
		if info.Kind != 0 {
			strategies[id] = ooxml.NewStripper(info.Kind, opts.Logger)
		}
	}
	strategies[FormatPDF] = pdf.NewRewriter(opts.PDF)
	return NewWithStrategies(strategies, opts.Logger)
}

// NewWithStrategies は任意の Strategy で Cleaner を構成します。
func NewWithStrategies(strategies map[FormatID]Strategy, logger zerolog.Logger) *Cleaner {
	return &Cleaner{strategies: strategies, logger: logger}
}

// OutputPath は "{outputFolder}/{入力名}_meta_clean{拡張子}" を返します。
// 拡張子は入力の表記のまま使います。
func OutputPath(input, outputFolder string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	return filepath.Join(outputFolder, strings.TrimSuffix(base, ext)+outputSuffix+ext)
}

// Clean は input のメタデータを除去して outputFolder に書き出し、出力パスを返します。
// 失敗時も対応フォーマットであれば出力パスを返します。
func (c *Cleaner) Clean(ctx context.Context, input, outputFolder string) (string, error) {
	info, ok := Lookup(input)
	if !ok {
		return "", cleanerr.New(cleanerr.CodeUnsupportedFormat, input, "",
			fmt.Sprintf("unsupported file extension %q", filepath.Ext(input)), nil)
	}
	strategy, ok := c.strategies[info.ID]
	if !ok {
		return "", cleanerr.New(cleanerr.CodeUnsupportedFormat, input, "",
			fmt.Sprintf("no strategy registered for %s", info.ID), nil)
	}

	output := OutputPath(input, outputFolder)
	if err := strategy.Strip(ctx, input, output); err != nil {
		return output, cleanerr.Unexpected(input, output, err)
	}
	return output, nil
}
