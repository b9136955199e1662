package docpipe

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/docextract/document"
)

var (
	mdConverter = sync.OnceValue(func() *converter.Converter {
		return converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		)
	})
	htmlPolicy = sync.OnceValue(bluemonday.UGCPolicy)
)

func htmlToMarkdown(src string) (string, error) {
	return mdConverter().ConvertString(src)
}

// sanitizeHTML strips scripts, event handlers and anything else outside
// the user-generated-content policy.
func sanitizeHTML(src string) string {
	return strings.TrimSpace(htmlPolicy().Sanitize(src))
}

// sectionHTML renders one section as a sanitized HTML fragment.
func sectionHTML(s document.Section, plain string) string {
	var b strings.Builder
	switch s.Type {
	case typeHeading:
		level := string(rune('0' + min(max(s.Level, 1), 6)))
		b.WriteString("<h" + level + ">" + html.EscapeString(plain) + "</h" + level + ">")
	case typeList:
		b.WriteString("<ul>")
		for _, l := range strings.Split(plain, "\n") {
			b.WriteString("<li>" + html.EscapeString(l) + "</li>")
		}
		b.WriteString("</ul>")
	case typeTable:
		b.WriteString("<table>")
		for i, row := range s.Table {
			cell := "td"
			if i == 0 {
				cell = "th"
			}
			b.WriteString("<tr>")
			for _, c := range row {
				b.WriteString("<" + cell + ">" + html.EscapeString(c) + "</" + cell + ">")
			}
			b.WriteString("</tr>")
		}
		b.WriteString("</table>")
	case typeCode:
		b.WriteString("<pre><code>" + html.EscapeString(plain) + "</code></pre>")
	default:
		b.WriteString("<p>" + strings.ReplaceAll(html.EscapeString(plain), "\n", "<br>") + "</p>")
	}
	return sanitizeHTML(b.String())
}

var (
	mdStrong = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	mdEm     = regexp.MustCompile(`(^|[^*\w])\*([^*\n]+)\*`)
)

// markdownToDjot rewrites the inline emphasis markup that differs between
// the two syntaxes: markdown *em* becomes _em_ and **strong** becomes
// *strong*. Code fences are left alone.
func markdownToDjot(md string) string {
	lines := strings.Split(md, "\n")
	inFence := false
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		l = mdEm.ReplaceAllString(l, "${1}_${2}_")
		lines[i] = mdStrong.ReplaceAllString(l, "*${1}*")
	}
	return strings.Join(lines, "\n")
}
