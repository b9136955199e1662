package docpipe

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/governor"
	"github.com/hazyhaar/docextract/ocr"
	"github.com/hazyhaar/docextract/postproc"
)

// pdfParser reads PDFs with pdfcpu. Parsing runs on the governor's blocking
// pool; the OCR fallback goes through the OCR service.
type pdfParser struct {
	gov *governor.Governor
	ocr *ocr.Service
}

func (x *pdfParser) parse(ctx context.Context, data []byte, _ string, cfg *config.ExtractionConfig) (*parsed, error) {
	var passwords []string
	if cfg != nil && cfg.PDF != nil {
		passwords = cfg.PDF.Passwords
	}
	pctx, err := governor.Run(ctx, x.gov, func() (*model.Context, error) {
		return readPDF(data, passwords)
	})
	if err != nil {
		return nil, err
	}

	meta := &document.PDFMetadata{
		PageCount:   pctx.PageCount,
		PDFVersion:  pctx.XRefTable.VersionString(),
		IsEncrypted: pctx.Encrypt != nil,
	}
	var subject string
	if cfg == nil || cfg.PDF.MetadataEnabled() {
		meta.Title = strings.TrimSpace(pctx.Title)
		subject = strings.TrimSpace(pctx.Subject)
		if a := strings.TrimSpace(pctx.Author); a != "" {
			meta.Authors = splitList(a)
		}
		if k := strings.TrimSpace(pctx.Keywords); k != "" {
			meta.Keywords = splitList(k)
		}
		meta.CreatedAt = pdfDate(pctx.XRefTable.CreationDate)
		meta.ModifiedAt = pdfDate(pctx.ModDate)
		meta.CreatedBy = pctx.Creator
		meta.Producer = pctx.Producer
	}

	p := &parsed{pages: pctx.PageCount, title: meta.Title}
	var all strings.Builder
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := extractPageText(pctx, pageNr)
		if text == "" {
			continue
		}
		if p.title == "" {
			p.title = firstLine(text)
		}
		for _, para := range splitPDFParagraphs(text) {
			p.sections = append(p.sections, document.Section{Text: para, Type: typeParagraph, Page: pageNr})
		}
		if all.Len() > 0 {
			all.WriteByte('\n')
		}
		all.WriteString(text)
	}

	imageCount := countImageStreams(pctx)
	meta.ImageCount = imageCount
	if pctx.PageCount > 0 {
		charsPerPage := float64(len([]rune(all.String()))) / float64(pctx.PageCount)
		meta.NeedsOCR = postproc.NeedsOCR(charsPerPage, postproc.PrintableRatio(all.String()), imageCount > 0)
	}

	wantImages := cfg != nil && (cfg.Images.ExtractImagesEnabled() || (cfg.PDF != nil && cfg.PDF.ExtractImages))
	wantOCR := cfg != nil && cfg.OCR != nil && x.ocr != nil && (cfg.ForceOCR || meta.NeedsOCR)
	if (wantImages || wantOCR) && imageCount > 0 {
		images, err := pageImages(pctx)
		if err != nil {
			return nil, err
		}
		if wantOCR {
			if err := x.recognize(ctx, p, images, cfg); err != nil {
				return nil, err
			}
		}
		if wantImages {
			p.images = images
		}
	}

	p.meta.Subject = subject
	p.meta.Date = meta.CreatedAt
	p.meta.SetFormat(meta)
	return p, nil
}

// recognize replaces the text of every page that has a decodable image
// with the OCR output of its images.
func (x *pdfParser) recognize(ctx context.Context, p *parsed, images []document.ExtractedImage, cfg *config.ExtractionConfig) error {
	byPage := map[int][]string{}
	for i := range images {
		img := &images[i]
		if _, _, err := image.DecodeConfig(bytes.NewReader(img.Data)); err != nil {
			continue
		}
		out, err := x.ocr.Run(ctx, img.Data, 0, cfg.OCR, cfg.Images)
		if err != nil {
			return err
		}
		text := strings.TrimSpace(out.Text)
		img.OCRResult = &document.Result{Content: text, MimeType: "text/plain"}
		if text != "" {
			byPage[img.PageNumber] = append(byPage[img.PageNumber], text)
		}
	}
	if len(byPage) == 0 {
		return nil
	}

	var sections []document.Section
	for _, s := range p.sections {
		if _, ok := byPage[s.Page]; !ok {
			sections = append(sections, s)
		}
	}
	for page := 1; page <= p.pages; page++ {
		texts, ok := byPage[page]
		if !ok {
			continue
		}
		for _, t := range texts {
			for _, para := range splitParagraphs(t) {
				sections = append(sections, document.Section{Text: para, Type: typeParagraph, Page: page})
			}
		}
	}
	ordered := make([]document.Section, 0, len(sections))
	for page := 0; page <= p.pages; page++ {
		for _, s := range sections {
			if s.Page == page {
				ordered = append(ordered, s)
			}
		}
	}
	p.sections = ordered
	p.ocr = true
	return nil
}

// readPDF parses data, trying each password in turn when the file is
// encrypted.
func readPDF(data []byte, passwords []string) (*model.Context, error) {
	try := func(pw string) (*model.Context, error) {
		conf := model.NewDefaultConfiguration()
		conf.UserPW = pw
		conf.OwnerPW = pw
		return api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	}

	pctx, err := try("")
	if err == nil {
		return pctx, nil
	}
	if !isPasswordError(err) {
		return nil, docerr.Wrap(docerr.KindParsing, err, "pdf: read")
	}
	for _, pw := range passwords {
		if pctx, perr := try(pw); perr == nil {
			return pctx, nil
		}
	}
	if len(passwords) == 0 {
		return nil, docerr.Validation("pdf: document is encrypted and no password was given")
	}
	return nil, docerr.Validation("pdf: none of the %d passwords opens the document", len(passwords))
}

func isPasswordError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

// extractPageText extracts text from a single PDF page via pdfcpu content stream.
func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// countImageStreams counts image XObjects in the cross-reference table.
func countImageStreams(ctx *model.Context) int {
	n := 0
	for _, entry := range ctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				n++
			}
		}
	}
	return n
}

// pageImages extracts the embedded images of every page in page order.
func pageImages(ctx *model.Context) ([]document.ExtractedImage, error) {
	var out []document.ExtractedImage
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		imgs, err := pdfcpu.ExtractPageImages(ctx, pageNr, false)
		if err != nil {
			return nil, docerr.Wrap(docerr.KindParsing, err, "pdf: images of page %d", pageNr)
		}
		for _, objNr := range slices.Sorted(maps.Keys(imgs)) {
			img := imgs[objNr]
			if img.Reader == nil {
				continue
			}
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, docerr.Wrap(docerr.KindParsing, err, "pdf: read image %d", objNr)
			}
			out = append(out, document.ExtractedImage{
				Data:             data,
				Format:           img.FileType,
				ImageIndex:       len(out),
				PageNumber:       pageNr,
				Width:            img.Width,
				Height:           img.Height,
				Colorspace:       img.Cs,
				BitsPerComponent: img.Bpc,
				IsMask:           img.IsImgMask,
			})
		}
	}
	return out, nil
}

// pdfDate turns "D:20240131120000+01'00'" into "2024-01-31T12:00:00+01:00".
// Unparseable input is returned trimmed.
func pdfDate(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 8 {
		return s
	}
	for _, c := range s[:8] {
		if c < '0' || c > '9' {
			return s
		}
	}
	digits := func(from, to int, def string) string {
		if len(s) >= to {
			return s[from:to]
		}
		return def
	}
	out := fmt.Sprintf("%s-%s-%sT%s:%s:%s", s[0:4], s[4:6], s[6:8],
		digits(8, 10, "00"), digits(10, 12, "00"), digits(12, 14, "00"))
	if len(s) > 14 {
		switch tz := s[14:]; {
		case tz[0] == 'Z':
			out += "Z"
		case (tz[0] == '+' || tz[0] == '-') && len(tz) >= 3:
			off := tz[:3]
			mins := "00"
			if rest := strings.Trim(tz[3:], "'"); len(rest) >= 2 {
				mins = rest[:2]
			}
			out += off + ":" + mins
		}
	}
	return out
}

// splitList splits "a, b; c" metadata values.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)

// extractTextFromStream parses PDF content stream operators for text.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	lines := bytes.Split(data, []byte{'\n'})
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		// Tj and TJ: (text) Tj, [(text) -100 (more text)] TJ
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}

		// ' moves to the next line and shows text.
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodePDFString(m[1]))
			}

		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}

		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			sb.WriteByte('\n')
		}
	}

	return cleanPDFText(sb.String())
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			// Octal escape (e.g. \040 for space).
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanPDFText collapses runs of spaces and drops non-printable runes.
// Line breaks survive, blank lines collapse to one.
func cleanPDFText(text string) string {
	var sb strings.Builder
	prevSpace, prevNL := false, false
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			if sb.Len() > 0 && !prevNL {
				sb.WriteByte('\n')
				prevNL, prevSpace = true, true
			}
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace, prevNL = false, false
		}
	}
	lines := strings.Split(sb.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitPDFParagraphs splits page text on blank lines.
func splitPDFParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n\n")
	var result []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 && strings.TrimSpace(text) != "" {
		result = []string{strings.TrimSpace(text)}
	}
	return result
}
