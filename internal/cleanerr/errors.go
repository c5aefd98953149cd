// Package cleanerr はメタデータ除去処理で発生するエラーの分類を定義します。
package cleanerr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
)

// Code はエラー種別を表します。
type Code string

const (
	CodeUnsupportedFormat     Code = "UNSUPPORTED_FORMAT"
	CodePackageOpen           Code = "PACKAGE_OPEN"
	CodeInputNotFound         Code = "INPUT_NOT_FOUND"
	CodeInputAccess           Code = "INPUT_ACCESS"
	CodeInvalidOutputPath     Code = "INVALID_OUTPUT_PATH"
	CodeOutputDelete          Code = "OUTPUT_DELETE"
	CodeCorruptOrProtectedPDF Code = "CORRUPT_OR_PROTECTED_PDF"
	CodePDFWriteExhausted     Code = "PDF_WRITE_EXHAUSTED"
	CodeUnexpected            Code = "UNEXPECTED"
)

// errors.Is で種別判定するための番兵値です。
var (
	ErrUnsupportedFormat     = &Error{Code: CodeUnsupportedFormat}
	ErrPackageOpen           = &Error{Code: CodePackageOpen}
	ErrInputNotFound         = &Error{Code: CodeInputNotFound}
	ErrInputAccess           = &Error{Code: CodeInputAccess}
	ErrInvalidOutputPath     = &Error{Code: CodeInvalidOutputPath}
	ErrOutputDelete          = &Error{Code: CodeOutputDelete}
	ErrCorruptOrProtectedPDF = &Error{Code: CodeCorruptOrProtectedPDF}
	ErrPDFWriteExhausted     = &Error{Code: CodePDFWriteExhausted}
	ErrUnexpected            = &Error{Code: CodeUnexpected}
)

// Error は入出力パスと原因を伴うエラーです。
type Error struct {
	Code    Code
	Input   string
	Output  string
	Message string
	// IO は原因がファイルI/O系の失敗であったかを示します。
	IO  bool
	Err error
}

// New は Error を生成します。
func New(code Code, input, output, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Input:   input,
		Output:  output,
		Message: message,
		IO:      IsIOError(cause),
		Err:     cause,
	}
}

// Unexpected は分類外の失敗を入出力パス付きで包みます。
// 既に *Error であればそのまま返します。
func Unexpected(input, output string, cause error) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	msg := "unexpected error"
	if IsIOError(cause) {
		msg = "file access error"
	}
	return New(CodeUnexpected, input, output, msg, cause)
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Input != "" {
		fmt.Fprintf(&b, " (input=%s", e.Input)
		if e.Output != "" {
			fmt.Fprintf(&b, ", output=%s", e.Output)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は Code が一致する *Error を同一とみなします。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable は再試行で解消し得る種別かを返します。
func (e *Error) Retryable() bool {
	return e.Code == CodePDFWriteExhausted
}

// CodeOf は err に含まれる Code を返します。分類できない場合は CodeUnexpected です。
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpected
}

// IsIOError はファイルシステム起因のエラーかを判定します。
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	var (
		pathErr *fs.PathError
		linkErr *os.LinkError
		sysErr  *os.SyscallError
		errno   syscall.Errno
	)
	return errors.As(err, &pathErr) ||
		errors.As(err, &linkErr) ||
		errors.As(err, &sysErr) ||
		errors.As(err, &errno)
}
