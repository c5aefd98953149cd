package cleaner

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourusername/meta-clean/internal/ooxml"
)

// FormatID は対応フォーマットの識別子です。
type FormatID string

const (
	FormatDOCX FormatID = "docx"
	FormatXLSX FormatID = "xlsx"
	FormatPPTX FormatID = "pptx"
	FormatPDF  FormatID = "pdf"
)

// FormatInfo は対応フォーマットの説明です。
type FormatInfo struct {
	ID        FormatID
	Name      string
	Extension string
	MIMEType  string
	// Container は mimetype で判定したときのコンテナ形式です（zip または pdf）。
	Container string
	// Kind は OOXML パッケージの種別です。PDF では 0 です。
	Kind ooxml.Kind
}

var formatInfo = map[FormatID]FormatInfo{
	FormatDOCX: {
		ID:        FormatDOCX,
		Name:      "Word document",
		Extension: ".docx",
		MIMEType:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Container: "application/zip",
		Kind:      ooxml.WordProcessing,
	},
	FormatXLSX: {
		ID:        FormatXLSX,
		Name:      "Excel workbook",
		Extension: ".xlsx",
		MIMEType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Container: "application/zip",
		Kind:      ooxml.Spreadsheet,
	},
	FormatPPTX: {
		ID:        FormatPPTX,
		Name:      "PowerPoint presentation",
		Extension: ".pptx",
		MIMEType:  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		Container: "application/zip",
		Kind:      ooxml.Presentation,
	},
	FormatPDF: {
		ID:        FormatPDF,
		Name:      "PDF document",
		Extension: ".pdf",
		MIMEType:  "application/pdf",
		Container: "application/pdf",
	},
}

// extMap は小文字の拡張子から FormatID を引きます。
var extMap = map[string]FormatID{
	".docx": FormatDOCX,
	".xlsx": FormatXLSX,
	".pptx": FormatPPTX,
	".pdf":  FormatPDF,
}

// Lookup は path の拡張子（大文字小文字を区別しない）から FormatInfo を返します。
func Lookup(path string) (FormatInfo, bool) {
	id, ok := extMap[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return FormatInfo{}, false
	}
	return formatInfo[id], true
}

// Supported は path が対応フォーマットかを返します。
func Supported(path string) bool {
	_, ok := Lookup(path)
	return ok
}

// Extensions は対応拡張子を昇順で返します。
func Extensions() []string {
	exts := make([]string, 0, len(extMap))
	for ext := range extMap {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
