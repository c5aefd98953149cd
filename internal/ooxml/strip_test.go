package ooxml

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/meta-clean/internal/cleanerr"
)

const (
	docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Default Extension="png" ContentType="image/png"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/><Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/><Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/><Override PartName="/docProps/app.xml" ContentType="application/vnd.openxmlformats-officedocument.extended-properties+xml"/></Types>`

	rootRelsWithProps = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/extended-properties" Target="docProps/app.xml"/><Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

	rootRelsBare = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="/word/document.xml"/></Relationships>`

	documentRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/><Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image%201.png"/><Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink" Target="https://example.com" TargetMode="External"/></Relationships>`

	documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>Quarterly report</w:t></w:r></w:p></w:body></w:document>`

	coreXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:creator>Jane Author</dc:creator><dc:title>Secret plan</dc:title></cp:coreProperties>`

	appXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties"><Application>Microsoft Office Word</Application><Company>ACME</Company></Properties>`
)

type entry struct {
	name   string
	body   string
	method uint16
}

func writeZip(t *testing.T, path string, entries []entry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

// writeZipWithRaw は entries の後に、圧縮済みデータをそのまま格納した raw を追加します。
func writeZipWithRaw(t *testing.T, path string, entries []entry, raw *zip.FileHeader, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	w, err := zw.CreateRaw(raw)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func docxWithoutStyles() []entry {
	var entries []entry
	for _, e := range fullDocx() {
		if e.name != "word/styles.xml" {
			entries = append(entries, e)
		}
	}
	return entries
}

func fullDocx() []entry {
	return []entry{
		{name: "[Content_Types].xml", body: docxContentTypes, method: zip.Deflate},
		{name: "_rels/.rels", body: rootRelsWithProps, method: zip.Deflate},
		{name: "word/document.xml", body: documentXML, method: zip.Deflate},
		{name: "word/_rels/document.xml.rels", body: documentRels, method: zip.Deflate},
		{name: "word/styles.xml", body: "<w:styles/>", method: zip.Deflate},
		{name: "word/media/image 1.png", body: "\x89PNG fake image bytes", method: zip.Store},
		{name: "docProps/core.xml", body: coreXML, method: zip.Deflate},
		{name: "docProps/app.xml", body: appXML, method: zip.Deflate},
		{name: "leftover/orphan.bin", body: "not referenced", method: zip.Deflate},
	}
}

func readZip(t *testing.T, path string) map[string]*zip.File {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { zr.Close() })

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	return files
}

func readEntry(t *testing.T, f *zip.File) string {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestStripRemovesPropertyParts(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "report.docx")
	output := filepath.Join(dir, "out", "report_meta_clean.docx")
	writeZip(t, input, fullDocx())

	s := NewStripper(WordProcessing, zerolog.Nop())
	require.NoError(t, s.Strip(context.Background(), input, output))

	in := readZip(t, input)
	out := readZip(t, output)

	assert.NotContains(t, out, "docProps/core.xml")
	assert.NotContains(t, out, "docProps/app.xml")
	assert.NotContains(t, out, "leftover/orphan.bin")

	for _, name := range []string{"word/document.xml", "word/_rels/document.xml.rels", "word/styles.xml", "word/media/image 1.png"} {
		require.Contains(t, out, name)
		assert.Equal(t, in[name].CRC32, out[name].CRC32, name)
		assert.Equal(t, in[name].CompressedSize64, out[name].CompressedSize64, name)
		assert.Equal(t, in[name].Method, out[name].Method, name)
		assert.Equal(t, readEntry(t, in[name]), readEntry(t, out[name]), name)
	}

	rels := readEntry(t, out["_rels/.rels"])
	assert.Contains(t, rels, "officeDocument")
	assert.NotContains(t, rels, "core-properties")
	assert.NotContains(t, rels, "extended-properties")

	types := readEntry(t, out["[Content_Types].xml"])
	assert.Contains(t, types, "/word/document.xml")
	assert.NotContains(t, types, "/docProps/core.xml")
	assert.NotContains(t, types, "/docProps/app.xml")

	pkg, err := Inspect(output, WordProcessing)
	require.NoError(t, err)
	assert.Empty(t, pkg.MetadataParts)
	assert.Equal(t, "word/document.xml", pkg.MainPart)
}

func TestStripWithoutPropertiesCopiesEverythingRaw(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "plain.docx")
	output := filepath.Join(dir, "plain_meta_clean.docx")
	writeZip(t, input, []entry{
		{name: "[Content_Types].xml", body: docxContentTypes, method: zip.Deflate},
		{name: "_rels/.rels", body: rootRelsBare, method: zip.Deflate},
		{name: "word/document.xml", body: documentXML, method: zip.Deflate},
	})

	s := NewStripper(WordProcessing, zerolog.Nop())
	require.NoError(t, s.Strip(context.Background(), input, output))

	in := readZip(t, input)
	out := readZip(t, output)
	require.Len(t, out, 3)
	for name, f := range in {
		assert.Equal(t, readEntry(t, f), readEntry(t, out[name]), name)
	}

	// 2回目も同じ結果になる
	again := filepath.Join(dir, "again.docx")
	require.NoError(t, s.Strip(context.Background(), output, again))
	assert.Len(t, readZip(t, again), 3)
}

func TestStripOverwritesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "report.docx")
	output := filepath.Join(dir, "report_meta_clean.docx")
	writeZip(t, input, fullDocx())
	require.NoError(t, os.WriteFile(output, []byte(strings.Repeat("stale", 10000)), 0o644))

	require.NoError(t, NewStripper(WordProcessing, zerolog.Nop()).Strip(context.Background(), input, output))

	_, err := Inspect(output, WordProcessing)
	assert.NoError(t, err)
}

func TestStripCreatesMissingOutputFolder(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "slides.pptx")
	output := filepath.Join(dir, "missing", "nested", "slides_meta_clean.pptx")
	writeZip(t, input, []entry{
		{name: "[Content_Types].xml", body: `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="xml" ContentType="application/xml"/><Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/></Types>`, method: zip.Deflate},
		{name: "_rels/.rels", body: `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="ppt/presentation.xml"/></Relationships>`, method: zip.Deflate},
		{name: "ppt/presentation.xml", body: "<p:presentation/>", method: zip.Deflate},
	})

	require.NoError(t, NewStripper(Presentation, zerolog.Nop()).Strip(context.Background(), input, output))
	assert.FileExists(t, output)
}

func TestStripRejectsInvalidPackages(t *testing.T) {
	dir := t.TempDir()

	notZip := filepath.Join(dir, "fake.docx")
	require.NoError(t, os.WriteFile(notZip, []byte("plain text, not a zip"), 0o644))

	noTypes := filepath.Join(dir, "notypes.docx")
	writeZip(t, noTypes, []entry{{name: "_rels/.rels", body: rootRelsBare}})

	wrongKind := filepath.Join(dir, "wrongkind.xlsx")
	writeZip(t, wrongKind, []entry{
		{name: "[Content_Types].xml", body: docxContentTypes},
		{name: "_rels/.rels", body: rootRelsBare},
		{name: "word/document.xml", body: documentXML},
	})

	brokenRels := filepath.Join(dir, "broken.docx")
	writeZip(t, brokenRels, []entry{
		{name: "[Content_Types].xml", body: docxContentTypes},
		{name: "_rels/.rels", body: "<Relationships"},
	})

	missingMain := filepath.Join(dir, "nomain.docx")
	writeZip(t, missingMain, []entry{
		{name: "[Content_Types].xml", body: docxContentTypes},
		{name: "_rels/.rels", body: rootRelsBare},
	})

	corruptDeflate := filepath.Join(dir, "corrupt-deflate.docx")
	garbage := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	writeZipWithRaw(t, corruptDeflate, docxWithoutStyles(), &zip.FileHeader{
		Name:               "word/styles.xml",
		Method:             zip.Deflate,
		CRC32:              0xdeadbeef,
		CompressedSize64:   uint64(len(garbage)),
		UncompressedSize64: 11,
	}, garbage)

	badChecksum := filepath.Join(dir, "bad-crc.docx")
	styles := []byte("<w:styles/>")
	writeZipWithRaw(t, badChecksum, docxWithoutStyles(), &zip.FileHeader{
		Name:               "word/styles.xml",
		Method:             zip.Store,
		CRC32:              0xdeadbeef,
		CompressedSize64:   uint64(len(styles)),
		UncompressedSize64: uint64(len(styles)),
	}, styles)

	tests := []struct {
		name  string
		input string
		kind  Kind
	}{
		{name: "not a zip", input: notZip, kind: WordProcessing},
		{name: "missing content types", input: noTypes, kind: WordProcessing},
		{name: "word package opened as spreadsheet", input: wrongKind, kind: Spreadsheet},
		{name: "malformed relationships", input: brokenRels, kind: WordProcessing},
		{name: "missing main part", input: missingMain, kind: WordProcessing},
		{name: "corrupt deflate stream in part", input: corruptDeflate, kind: WordProcessing},
		{name: "checksum mismatch in part", input: badChecksum, kind: WordProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := filepath.Join(dir, "out", tt.name+".out")
			err := NewStripper(tt.kind, zerolog.Nop()).Strip(context.Background(), tt.input, output)
			require.Error(t, err)
			assert.ErrorIs(t, err, cleanerr.ErrPackageOpen)
			assert.NoFileExists(t, output)
		})
	}
}

func TestStripMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := NewStripper(Spreadsheet, zerolog.Nop()).Strip(context.Background(), filepath.Join(dir, "nope.xlsx"), filepath.Join(dir, "nope_meta_clean.xlsx"))
	assert.ErrorIs(t, err, cleanerr.ErrInputNotFound)
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		source, target, want string
	}{
		{"", "word/document.xml", "word/document.xml"},
		{"", "/word/document.xml", "word/document.xml"},
		{"word/document.xml", "media/image1.png", "word/media/image1.png"},
		{"word/document.xml", "../customXml/item1.xml", "customXml/item1.xml"},
		{"xl/workbook.xml", "worksheets/sheet%201.xml", "xl/worksheets/sheet 1.xml"},
		{"word/document.xml", "styles.xml#anchor", "word/styles.xml"},
	}
	for _, tt := range tests {
		got, err := resolveTarget(tt.source, tt.target)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRelsPartName(t *testing.T) {
	assert.Equal(t, "word/_rels/document.xml.rels", relsPartName("word/document.xml"))
	assert.Equal(t, "_rels/foo.xml.rels", relsPartName("foo.xml"))
}
