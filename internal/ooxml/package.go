// Package ooxml は OOXML パッケージ（docx/xlsx/pptx）からプロパティパーツを取り除きます。
package ooxml

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// Kind はパッケージの文書種別です。
type Kind int

const (
	WordProcessing Kind = iota + 1
	Spreadsheet
	Presentation
)

func (k Kind) String() string {
	switch k {
	case WordProcessing:
		return "wordprocessing"
	case Spreadsheet:
		return "spreadsheet"
	case Presentation:
		return "presentation"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// メイン文書パーツの Content-Type に含まれる識別子（テンプレート・マクロ有効版を含む）
var kindMarkers = map[Kind][]string{
	WordProcessing: {"wordprocessingml", "ms-word"},
	Spreadsheet:    {"spreadsheetml", "ms-excel"},
	Presentation:   {"presentationml", "ms-powerpoint"},
}

const (
	contentTypesName = "[Content_Types].xml"
	rootRelsName     = "_rels/.rels"

	relOfficeDocument       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	relOfficeDocumentStrict = "http://purl.oclc.org/ooxml/officeDocument/relationships/officeDocument"
)

// metadataRelTypes はルートから削除するプロパティパーツのリレーションシップ種別です。
var metadataRelTypes = map[string]string{
	"http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties":       "core",
	"http://schemas.openxmlformats.org/officedocument/2006/relationships/metadata/core-properties": "core",
	"http://schemas.openxmlformats.org/officeDocument/2006/relationships/extended-properties":     "extended",
	"http://purl.oclc.org/ooxml/officeDocument/relationships/extendedProperties":                  "extended",
}

type relationships struct {
	XMLName xml.Name       `xml:"http://schemas.openxmlformats.org/package/2006/relationships Relationships"`
	Items   []relationship `xml:"Relationship"`
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr,omitempty"`
}

type contentTypes struct {
	XMLName   xml.Name     `xml:"http://schemas.openxmlformats.org/package/2006/content-types Types"`
	Defaults  []ctDefault  `xml:"Default"`
	Overrides []ctOverride `xml:"Override"`
}

type ctDefault struct {
	Extension   string `xml:"Extension,attr"`
	ContentType string `xml:"ContentType,attr"`
}

type ctOverride struct {
	PartName    string `xml:"PartName,attr"`
	ContentType string `xml:"ContentType,attr"`
}

// Package は読み込み済みパッケージの構造です。パーツ名は先頭の "/" を含みません。
type Package struct {
	Kind     Kind
	MainPart string
	// Parts はルートから辿れるパーツ（.rels を除く）を発見順に並べたものです。
	Parts []string
	// MetadataParts はルートのプロパティ用リレーションシップが指すパーツです。
	MetadataParts []string

	entries  map[string]*zip.File
	copyable map[string]bool
	types    contentTypes
	rootRels relationships
}

// HasPart は name のパーツが存在するかを返します（大文字小文字は区別しません）。
func (p *Package) HasPart(name string) bool {
	_, ok := p.entries[strings.ToLower(strings.TrimPrefix(name, "/"))]
	return ok
}

// keep はコピー対象のエントリかを返します。
func (p *Package) keep(name string) bool {
	return p.copyable[strings.ToLower(strings.TrimPrefix(name, "/"))]
}

func (p *Package) isMetadata(part string) bool {
	for _, m := range p.MetadataParts {
		if strings.EqualFold(m, part) {
			return true
		}
	}
	return false
}

func readPackage(zr *zip.Reader, kind Kind) (*Package, error) {
	pkg := &Package{
		Kind:     kind,
		entries:  make(map[string]*zip.File, len(zr.File)),
		copyable: make(map[string]bool),
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		pkg.entries[strings.ToLower(strings.TrimPrefix(f.Name, "/"))] = f
	}

	if err := pkg.decode(contentTypesName, &pkg.types); err != nil {
		return nil, err
	}
	if err := pkg.decode(rootRelsName, &pkg.rootRels); err != nil {
		return nil, err
	}
	pkg.copyable[strings.ToLower(contentTypesName)] = true
	pkg.copyable[strings.ToLower(rootRelsName)] = true

	queue := make([]string, 0, len(pkg.entries))
	seen := make(map[string]bool)
	for _, rel := range pkg.rootRels.Items {
		if strings.EqualFold(rel.TargetMode, "External") {
			continue
		}
		target, err := resolveTarget("", rel.Target)
		if err != nil {
			return nil, err
		}
		if _, ok := metadataRelTypes[rel.Type]; ok {
			if pkg.HasPart(target) {
				pkg.MetadataParts = append(pkg.MetadataParts, target)
			}
			continue
		}
		if rel.Type == relOfficeDocument || rel.Type == relOfficeDocumentStrict {
			pkg.MainPart = target
		}
		queue = append(queue, target)
	}

	if pkg.MainPart == "" {
		return nil, fmt.Errorf("package has no officeDocument relationship")
	}
	if !pkg.HasPart(pkg.MainPart) {
		return nil, fmt.Errorf("main part %s is missing", pkg.MainPart)
	}
	if err := pkg.checkKind(); err != nil {
		return nil, err
	}

	for len(queue) > 0 {
		part := queue[0]
		queue = queue[1:]
		key := strings.ToLower(part)
		if seen[key] {
			continue
		}
		seen[key] = true

		// 壊れた参照は Office 自体も許容するため、存在しないターゲットは読み飛ばします
		if !pkg.HasPart(part) || pkg.isMetadata(part) {
			continue
		}
		if err := pkg.verify(part); err != nil {
			return nil, err
		}
		pkg.Parts = append(pkg.Parts, part)
		pkg.copyable[key] = true

		relsName := relsPartName(part)
		if !pkg.HasPart(relsName) {
			continue
		}
		pkg.copyable[strings.ToLower(relsName)] = true

		var rels relationships
		if err := pkg.decode(relsName, &rels); err != nil {
			return nil, err
		}
		for _, rel := range rels.Items {
			if strings.EqualFold(rel.TargetMode, "External") {
				continue
			}
			target, err := resolveTarget(part, rel.Target)
			if err != nil {
				return nil, err
			}
			queue = append(queue, target)
		}
	}

	return pkg, nil
}

// verify は name を最後まで展開し、圧縮データと CRC32 を検査します。
func (p *Package) verify(name string) error {
	f, ok := p.entries[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%s is missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func (p *Package) decode(name string, v any) error {
	f, ok := p.entries[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%s is missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (p *Package) checkKind() error {
	ct := strings.ToLower(p.contentTypeOf(p.MainPart))
	if ct == "" {
		return fmt.Errorf("main part %s has no content type", p.MainPart)
	}
	for _, marker := range kindMarkers[p.Kind] {
		if strings.Contains(ct, marker) {
			return nil
		}
	}
	return fmt.Errorf("main part content type %q is not a %s document", ct, p.Kind)
}

func (p *Package) contentTypeOf(part string) string {
	for _, o := range p.types.Overrides {
		if strings.EqualFold(strings.TrimPrefix(o.PartName, "/"), part) {
			return o.ContentType
		}
	}
	ext := strings.TrimPrefix(path.Ext(part), ".")
	for _, d := range p.types.Defaults {
		if strings.EqualFold(d.Extension, ext) {
			return d.ContentType
		}
	}
	return ""
}

// resolveTarget はリレーションシップの Target を source からの相対でパーツ名に変換します。
func resolveTarget(source, target string) (string, error) {
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	unescaped, err := url.PathUnescape(target)
	if err != nil {
		return "", fmt.Errorf("invalid relationship target %q: %w", target, err)
	}
	if strings.HasPrefix(unescaped, "/") {
		return strings.TrimPrefix(path.Clean(unescaped), "/"), nil
	}
	return strings.TrimPrefix(path.Clean(path.Join("/", path.Dir(source), unescaped)), "/"), nil
}

func relsPartName(part string) string {
	dir, base := path.Split(part)
	return dir + "_rels/" + base + ".rels"
}
