package docpipe

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

const (
	// maxXMLDepth bounds element nesting in office XML parts.
	maxXMLDepth = 256
	// maxZipEntry bounds the decompressed size of one archive member.
	maxZipEntry = 64 << 20
)

func openZip(data []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, docerr.Wrap(docerr.KindParsing, err, "%s: open zip", format)
	}
	return zr, nil
}

func zipMember(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// readZipMember returns the decompressed content of f, refusing members
// that inflate past maxZipEntry.
func readZipMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, docerr.Wrap(docerr.KindParsing, err, "open %s", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxZipEntry+1))
	if err != nil {
		return nil, docerr.Wrap(docerr.KindParsing, err, "read %s", f.Name)
	}
	if len(data) > maxZipEntry {
		return nil, docerr.Parsing("%s inflates past %d bytes", f.Name, maxZipEntry)
	}
	return data, nil
}

// readZipPart reads a named member. A missing member yields (nil, nil).
func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	f := zipMember(zr, name)
	if f == nil {
		return nil, nil
	}
	return readZipMember(f)
}

// walkXML feeds every token of data to fn, failing once nesting passes
// maxXMLDepth.
func walkXML(data []byte, fn func(xml.Token) error) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return docerr.Wrap(docerr.KindParsing, err, "xml")
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxXMLDepth {
				return docerr.Parsing("xml: nesting depth exceeds %d", maxXMLDepth)
			}
		case xml.EndElement:
			depth--
		}
		if err := fn(tok); err != nil {
			return err
		}
	}
}

func xmlAttr(se xml.StartElement, local string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// coreProps is the Dublin Core part shared by OOXML packages
// (docProps/core.xml) and ODF meta.xml.
type coreProps struct {
	Title          string `xml:"title"`
	Subject        string `xml:"subject"`
	Creator        string `xml:"creator"`
	InitialCreator string `xml:"initial-creator"`
	Description    string `xml:"description"`
	Keywords       string `xml:"keywords"`
	Keyword        string `xml:"keyword"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Created        string `xml:"created"`
	CreationDate   string `xml:"creation-date"`
	Modified       string `xml:"modified"`
	Date           string `xml:"date"`
}

// readCoreProps decodes the properties part. Missing or malformed parts
// give zero props: metadata is best effort.
func readCoreProps(zr *zip.Reader, name string) coreProps {
	var cp coreProps
	data, err := readZipPart(zr, name)
	if err != nil || data == nil {
		return cp
	}
	if err := walkXML(data, func(xml.Token) error { return nil }); err != nil {
		return cp
	}
	if name == "meta.xml" {
		// ODF nests the fields in <office:meta>.
		var doc struct {
			Meta coreProps `xml:"meta"`
		}
		if xml.Unmarshal(data, &doc) == nil {
			cp = doc.Meta
		}
		return cp
	}
	_ = xml.Unmarshal(data, &cp)
	return cp
}

// apply copies the props into m.
func (cp coreProps) apply(m *document.Metadata) {
	trim := strings.TrimSpace
	if v := trim(cp.Subject); v != "" {
		m.Subject = v
	}
	if v := firstNonEmpty(cp.Created, cp.CreationDate); v != "" {
		m.Date = trim(v)
		m.Set("created_at", trim(v))
	}
	if v := firstNonEmpty(cp.Modified, cp.Date); v != "" {
		m.Set("modified_at", trim(v))
	}
	if v := firstNonEmpty(cp.Creator, cp.InitialCreator); v != "" {
		m.Set("authors", splitList(v))
	}
	if v := firstNonEmpty(cp.Keywords, cp.Keyword); v != "" {
		m.Set("keywords", splitList(v))
	}
	if v := trim(cp.LastModifiedBy); v != "" {
		m.Set("modified_by", v)
	}
	if v := trim(cp.Description); v != "" {
		m.Set("description", v)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// relTargets maps relationship IDs to package paths for a .rels part.
// base is the directory the targets are relative to.
func relTargets(zr *zip.Reader, relsName, base string) map[string]string {
	out := map[string]string{}
	data, err := readZipPart(zr, relsName)
	if err != nil || data == nil {
		return out
	}
	var rels struct {
		Rel []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if xml.Unmarshal(data, &rels) != nil {
		return out
	}
	for _, r := range rels.Rel {
		target := r.Target
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Clean(path.Join(base, target))
		}
		out[r.ID] = target
	}
	return out
}

// zipImages returns the images stored under prefix (word/media/,
// ppt/media/ and the like).
func zipImages(zr *zip.Reader, prefix string) ([]document.ExtractedImage, error) {
	var out []document.ExtractedImage
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(f.Name), "."))
		switch ext {
		case "png", "jpg", "jpeg", "gif", "bmp", "tif", "tiff", "webp", "emf", "wmf", "svg":
		default:
			continue
		}
		data, err := readZipMember(f)
		if err != nil {
			return nil, err
		}
		img := document.ExtractedImage{Data: data, Format: ext, ImageIndex: len(out)}
		decorateImage(&img)
		out = append(out, img)
	}
	return out, nil
}
