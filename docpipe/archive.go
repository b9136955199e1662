package docpipe

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/mimes"
)

const (
	// maxArchiveEntries bounds how many members are listed.
	maxArchiveEntries = 10000
	// maxArchiveText bounds the total text read from members.
	maxArchiveText = 16 << 20
)

// archiveEntry is one member of an archive. data is only kept for
// textual members.
type archiveEntry struct {
	name string
	size int64
	data []byte
}

// parseArchive lists the members of a zip, tar or gzip input and extracts
// the text of its textual members.
func parseArchive(ctx context.Context, data []byte, mime string, _ *config.ExtractionConfig) (*parsed, error) {
	var (
		format  string
		entries []archiveEntry
		err     error
	)
	switch mime {
	case mimes.ZIP:
		format = "zip"
		entries, err = zipEntries(ctx, data)
	case mimes.TAR:
		format = "tar"
		entries, err = tarEntries(ctx, bytes.NewReader(data))
	case mimes.GZIP:
		format, entries, err = gzipEntries(ctx, data)
	default:
		return nil, docerr.Validation("archive: unsupported type %q", mime)
	}
	if err != nil {
		return nil, err
	}

	meta := &document.ArchiveMetadata{Format: format, FileCount: len(entries), FileList: []string{}}
	if format != "tar" {
		meta.CompressedSize = int64(len(data))
	}
	for _, e := range entries {
		meta.FileList = append(meta.FileList, e.name)
		meta.TotalSize += e.size
	}

	p := &parsed{}
	if len(entries) > 0 {
		p.sections = append(p.sections, document.Section{
			Text:     strings.Join(meta.FileList, "\n"),
			Type:     typeList,
			Metadata: map[string]string{"role": "file_list"},
		})
	}
	for _, e := range entries {
		if e.data == nil {
			continue
		}
		text, err := decodeText(e.data)
		if err != nil {
			continue
		}
		p.sections = append(p.sections, document.Section{Title: e.name, Text: e.name, Level: 2, Type: typeHeading})
		for _, para := range splitParagraphs(strings.ReplaceAll(text, "\r\n", "\n")) {
			p.sections = append(p.sections, document.Section{Text: para, Type: typeParagraph})
		}
	}
	p.meta.SetFormat(meta)
	return p, nil
}

// textual reports whether a member's content should be read.
func textual(name string) bool {
	m, err := mimes.FromPath(name)
	return err == nil && mimes.IsText(m) && m != mimes.HTML && m != mimes.XHTML
}

func zipEntries(ctx context.Context, data []byte) ([]archiveEntry, error) {
	zr, err := openZip(data, "archive")
	if err != nil {
		return nil, err
	}
	var out []archiveEntry
	budget := int64(maxArchiveText)
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if len(out) >= maxArchiveEntries {
			break
		}
		e := archiveEntry{name: f.Name, size: int64(f.UncompressedSize64)}
		if textual(f.Name) && e.size <= budget {
			if e.data, err = readZipMember(f); err != nil {
				return nil, err
			}
			budget -= int64(len(e.data))
		}
		out = append(out, e)
	}
	return out, nil
}

func tarEntries(ctx context.Context, r io.Reader) ([]archiveEntry, error) {
	tr := tar.NewReader(r)
	var out []archiveEntry
	budget := int64(maxArchiveText)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, docerr.Wrap(docerr.KindParsing, err, "tar: read header")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if len(out) >= maxArchiveEntries {
			return out, nil
		}
		e := archiveEntry{name: hdr.Name, size: hdr.Size}
		if textual(hdr.Name) && hdr.Size <= budget {
			if e.data, err = io.ReadAll(io.LimitReader(tr, hdr.Size)); err != nil {
				return nil, docerr.Wrap(docerr.KindParsing, err, "tar: read %s", hdr.Name)
			}
			budget -= int64(len(e.data))
		}
		out = append(out, e)
	}
}

// gzipEntries unpacks a gzip stream. A tar inside is listed as tar.gz,
// anything else is a single member named after the gzip header.
func gzipEntries(ctx context.Context, data []byte) (string, []archiveEntry, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, docerr.Wrap(docerr.KindParsing, err, "gzip: open")
	}
	defer zr.Close()
	inner, err := io.ReadAll(io.LimitReader(zr, maxArchiveText+1))
	if err != nil {
		return "", nil, docerr.Wrap(docerr.KindParsing, err, "gzip: inflate")
	}
	if len(inner) > maxArchiveText {
		return "", nil, docerr.Parsing("gzip: inflates past %d bytes", maxArchiveText)
	}

	if len(inner) > 262 && string(inner[257:262]) == "ustar" {
		entries, err := tarEntries(ctx, bytes.NewReader(inner))
		return "tar.gz", entries, err
	}

	name := zr.Name
	if name == "" {
		name = "data"
	}
	e := archiveEntry{name: path.Base(name), size: int64(len(inner))}
	if zr.Name == "" || textual(name) {
		if _, err := decodeText(inner); err == nil {
			e.data = inner
		}
	}
	return "gzip", []archiveEntry{e}, nil
}
