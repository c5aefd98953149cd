// Package pdf は PDF の文書情報辞書から作成者などの項目を消去します。
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog"

	"github.com/yourusername/meta-clean/internal/cleanerr"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = 500 * time.Millisecond
	tempSuffix        = "_temp.pdf"
)

// InfoFields は空文字に置き換える文書情報辞書のキーです。
var InfoFields = []string{"Author", "Creator", "Keywords", "Subject", "Title"}

func init() {
	// pdfcpu がユーザー設定ディレクトリを作成しないようにする
	pdfapi.DisableConfigDir()
}

// Options は Rewriter の設定です。
type Options struct {
	// TempDir は一時ファイルの置き場所です。空なら os.TempDir() を使います。
	TempDir string
	// Attempts は保存の総試行回数です（1以上、0なら3回）。
	Attempts int
	// RetryDelay は試行間の待ち時間です。0以下なら500msです。
	RetryDelay time.Duration
	Logger     zerolog.Logger
}

// fileOps はテストで差し替えるファイル操作です。
type fileOps struct {
	open   func(name string) (*os.File, error)
	create func(name string) (*os.File, error)
	rename func(oldpath, newpath string) error
}

func osFileOps() fileOps {
	return fileOps{
		open:   os.Open,
		create: os.Create,
		rename: os.Rename,
	}
}

// Rewriter は一時ファイル経由で PDF を書き出し、出力パスへ移動します。
type Rewriter struct {
	tempDir  string
	attempts int
	delay    time.Duration
	logger   zerolog.Logger
	fs       fileOps
}

// NewRewriter は Rewriter を生成します。
func NewRewriter(opts Options) *Rewriter {
	r := &Rewriter{
		tempDir:  opts.TempDir,
		attempts: opts.Attempts,
		delay:    opts.RetryDelay,
		logger:   opts.Logger,
		fs:       osFileOps(),
	}
	if r.tempDir == "" {
		r.tempDir = os.TempDir()
	}
	if r.attempts < 1 {
		r.attempts = defaultAttempts
	}
	if r.delay <= 0 {
		r.delay = defaultRetryDelay
	}
	return r
}

// Strip は input の文書情報辞書の5項目を空にして output に保存します。
// 既存の output は置き換えられ、一時ファイルはどの経路でも削除されます。
func (r *Rewriter) Strip(ctx context.Context, input, output string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.validateInput(input, output); err != nil {
		return err
	}
	if err := r.prepareOutput(input, output); err != nil {
		return err
	}

	temp := filepath.Join(r.tempDir, uuid.NewString()+tempSuffix)
	defer func() {
		_ = os.Remove(temp)
	}()

	var (
		attempt   int
		permanent error
	)
	operation := func() error {
		attempt++
		err := r.saveAttempt(input, output, temp)
		if err == nil {
			err = r.promote(temp, output)
		}
		if err == nil {
			return nil
		}
		if cleanerr.CodeOf(err) == cleanerr.CodeCorruptOrProtectedPDF || !cleanerr.IsIOError(err) {
			permanent = cleanerr.Unexpected(input, output, err)
			return backoff.Permanent(permanent)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn().
			Err(err).
			Str("input", input).
			Str("output", output).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("pdf write failed, retrying")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.attempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if permanent != nil {
			return permanent
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cleanerr.Unexpected(input, output, ctxErr)
		}
		return cleanerr.New(cleanerr.CodePDFWriteExhausted, input, output,
			fmt.Sprintf("could not write after %d attempts; the output file is probably open in another program", attempt), err)
	}

	r.logger.Debug().
		Str("input", input).
		Str("output", output).
		Int("attempts", attempt).
		Msg("pdf info cleared")
	return nil
}

func (r *Rewriter) validateInput(input, output string) error {
	info, err := os.Stat(input)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cleanerr.New(cleanerr.CodeInputNotFound, input, output, "input file does not exist", err)
		}
		return cleanerr.New(cleanerr.CodeInputAccess, input, output, "input file cannot be accessed", err)
	}
	if info.IsDir() {
		return cleanerr.New(cleanerr.CodeInputAccess, input, output, "input is a directory", nil)
	}

	f, err := r.fs.open(input)
	if err != nil {
		return cleanerr.New(cleanerr.CodeInputAccess, input, output, "input file cannot be opened for reading", err)
	}
	_ = f.Close()
	return nil
}

func (r *Rewriter) prepareOutput(input, output string) error {
	if output == "" || filepath.Base(output) == output {
		return cleanerr.New(cleanerr.CodeInvalidOutputPath, input, output, "output path has no parent directory", nil)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return cleanerr.Unexpected(input, output, fmt.Errorf("create output directory: %w", err))
	}

	if info, err := os.Lstat(output); err == nil {
		if info.IsDir() {
			return cleanerr.New(cleanerr.CodeOutputDelete, input, output, "output path is a directory", nil)
		}
		if err := os.Remove(output); err != nil {
			return cleanerr.New(cleanerr.CodeOutputDelete, input, output, "existing output file cannot be deleted", err)
		}
	}
	return nil
}

// saveAttempt は1回分の読込・消去・一時ファイルへの保存を行います。
func (r *Rewriter) saveAttempt(input, output, temp string) error {
	in, err := r.fs.open(input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := pdfapi.ReadContext(in, conf)
	if err != nil {
		return cleanerr.New(cleanerr.CodeCorruptOrProtectedPDF, input, output, "pdf is corrupt or password protected", err)
	}
	if pdfCtx.Encrypt != nil {
		return cleanerr.New(cleanerr.CodeCorruptOrProtectedPDF, input, output, "pdf is encrypted", nil)
	}

	if err := clearInfo(pdfCtx); err != nil {
		return cleanerr.New(cleanerr.CodeCorruptOrProtectedPDF, input, output, "pdf info dictionary is malformed", err)
	}

	out, err := r.fs.create(temp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := pdfapi.WriteContext(pdfCtx, out); err != nil {
		_ = out.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

func clearInfo(pdfCtx *model.Context) error {
	if pdfCtx.Info == nil {
		return nil
	}
	d, err := pdfCtx.DereferenceDict(*pdfCtx.Info)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	for _, k := range InfoFields {
		d[k] = types.StringLiteral("")
	}
	return nil
}

// promote は一時ファイルを出力パスへ移動します。別ボリュームの場合はコピーします。
func (r *Rewriter) promote(temp, output string) error {
	err := r.fs.rename(temp, output)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move temp file to output: %w", err)
	}
	if err := copyFile(temp, output); err != nil {
		_ = os.Remove(output)
		return fmt.Errorf("copy temp file to output: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
