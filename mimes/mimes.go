// Package mimes normalizes, sniffs and maps MIME types for dispatch.
package mimes

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hazyhaar/docextract/docerr"
)

// MIME types the built-in extractors handle.
const (
	PlainText = "text/plain"
	Markdown  = "text/markdown"
	HTML      = "text/html"
	XHTML     = "application/xhtml+xml"
	PDF       = "application/pdf"
	DOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	XLSX      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	PPTX      = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	ODT       = "application/vnd.oasis.opendocument.text"
	EML       = "message/rfc822"
	MBOX      = "application/mbox"
	ZIP       = "application/zip"
	TAR       = "application/x-tar"
	GZIP      = "application/gzip"
	XML       = "application/xml"
	TextXML   = "text/xml"
	JSON      = "application/json"
	YAML      = "application/x-yaml"
	TextYAML  = "text/yaml"
	CSV       = "text/csv"
	TSV       = "text/tab-separated-values"
	PNG       = "image/png"
	JPEG      = "image/jpeg"
	GIF       = "image/gif"
	BMP       = "image/bmp"
	TIFF      = "image/tiff"
	WEBP      = "image/webp"
	Octet     = "application/octet-stream"
)

// aliases maps non-canonical spellings to the canonical type.
var aliases = map[string]string{
	"application/x-pdf":            PDF,
	"text/x-markdown":              Markdown,
	"text/md":                      Markdown,
	"application/x-zip-compressed": ZIP,
	"application/x-gzip":           GZIP,
	"application/yaml":             YAML,
	"text/x-yaml":                  YAML,
	"application/x-json":           JSON,
	"text/json":                    JSON,
	"image/jpg":                    JPEG,
	"image/x-ms-bmp":               BMP,
	"text/x-csv":                   CSV,
	"application/csv":              CSV,
	"message/x-emlx":               EML,
	"application/x-mbox":           MBOX,
}

var extensions = map[string]string{
	".txt":      PlainText,
	".text":     PlainText,
	".log":      PlainText,
	".md":       Markdown,
	".markdown": Markdown,
	".html":     HTML,
	".htm":      HTML,
	".xhtml":    XHTML,
	".pdf":      PDF,
	".docx":     DOCX,
	".xlsx":     XLSX,
	".pptx":     PPTX,
	".odt":      ODT,
	".eml":      EML,
	".mbox":     MBOX,
	".zip":      ZIP,
	".tar":      TAR,
	".gz":       GZIP,
	".tgz":      GZIP,
	".xml":      XML,
	".json":     JSON,
	".yaml":     YAML,
	".yml":      YAML,
	".csv":      CSV,
	".tsv":      TSV,
	".png":      PNG,
	".jpg":      JPEG,
	".jpeg":     JPEG,
	".gif":      GIF,
	".bmp":      BMP,
	".tif":      TIFF,
	".tiff":     TIFF,
	".webp":     WEBP,
}

// Normalize lowercases m, strips parameters and maps known aliases.
// "Text/HTML; charset=utf-8" becomes "text/html".
func Normalize(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(m); err == nil {
		m = mt
	} else if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	m = strings.ToLower(strings.TrimSpace(m))
	if a, ok := aliases[m]; ok {
		return a
	}
	return m
}

// FromPath returns the MIME type for a file name by extension.
func FromPath(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if m, ok := extensions[ext]; ok {
		return m, nil
	}
	if m := mime.TypeByExtension(ext); m != "" {
		return Normalize(m), nil
	}
	return "", docerr.Validation("unsupported file extension %q", ext)
}

// Detect sniffs the MIME type from content.
func Detect(data []byte) string {
	return Normalize(mimetype.Detect(data).String())
}

// Resolve returns the normalized declared type, or the sniffed one when
// declared is empty. A declared octet-stream is treated as unknown.
func Resolve(data []byte, declared string) string {
	m := Normalize(declared)
	if m == "" || m == Octet {
		return Detect(data)
	}
	return m
}

// Family returns the wildcard form of m: "image/png" becomes "image/*".
func Family(m string) string {
	if i := strings.IndexByte(m, '/'); i > 0 {
		return m[:i] + "/*"
	}
	return ""
}

// Extension returns a file extension (with dot) for m, or "".
func Extension(m string) string {
	best := ""
	for ext, t := range extensions {
		if t == m && (best == "" || len(ext) > len(best) || (len(ext) == len(best) && ext < best)) {
			best = ext
		}
	}
	return best
}

// IsText reports whether m is a textual type.
func IsText(m string) bool {
	switch {
	case strings.HasPrefix(m, "text/"):
		return true
	case m == JSON, m == XML, m == YAML, m == XHTML:
		return true
	}
	return false
}
