package docpipe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/jhillyerd/enmime"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/mimes"
)

// parseEmail reads a single RFC 822 message, or every message of an mbox.
func parseEmail(ctx context.Context, data []byte, mime string, _ *config.ExtractionConfig) (*parsed, error) {
	if mime == mimes.MBOX {
		return parseMbox(ctx, data)
	}
	msg, err := readMessage(data)
	if err != nil {
		return nil, err
	}
	p := &parsed{title: msg.subject, sections: msg.sections(1)}
	meta := msg.metadata()
	meta.MessageCount = 1
	p.meta.SetFormat(meta)
	p.meta.Subject = msg.subject
	p.meta.Date = msg.date
	return p, nil
}

func parseMbox(ctx context.Context, data []byte) (*parsed, error) {
	r := mbox.NewReader(bytes.NewReader(data))
	var msgs []*message
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mr, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, docerr.Wrap(docerr.KindParsing, err, "mbox: message %d", len(msgs)+1)
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			return nil, docerr.Wrap(docerr.KindParsing, err, "mbox: read message %d", len(msgs)+1)
		}
		msg, err := readMessage(raw)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil, docerr.Parsing("mbox: no messages")
	}

	p := &parsed{title: msgs[0].subject}
	meta := msgs[0].metadata()
	meta.Attachments = nil
	for _, m := range msgs {
		p.sections = append(p.sections, m.sections(2)...)
		meta.Attachments = append(meta.Attachments, m.attachments...)
	}
	meta.MessageCount = len(msgs)
	p.meta.SetFormat(meta)
	p.meta.Subject = msgs[0].subject
	p.meta.Date = msgs[0].date
	return p, nil
}

type message struct {
	subject     string
	date        string
	from        *mail.Address
	to, cc, bcc []string
	messageID   string
	body        string
	attachments []string
}

func readMessage(data []byte) (*message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return nil, docerr.Wrap(docerr.KindParsing, err, "email: parse")
	}
	m := &message{
		subject:   strings.TrimSpace(env.GetHeader("Subject")),
		messageID: strings.Trim(strings.TrimSpace(env.GetHeader("Message-Id")), "<>"),
	}
	if d := env.GetHeader("Date"); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			m.date = t.UTC().Format(time.RFC3339)
		} else {
			m.date = strings.TrimSpace(d)
		}
	}
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		m.from = from[0]
	}
	m.to = addresses(env, "To")
	m.cc = addresses(env, "Cc")
	m.bcc = addresses(env, "Bcc")

	// Prefer plain text, fall back to HTML if plain text is empty.
	m.body = strings.TrimSpace(env.Text)
	if m.body == "" && env.HTML != "" {
		m.body = htmlText(env.HTML)
	}
	for _, a := range env.Attachments {
		name := a.FileName
		if name == "" {
			name = a.ContentType
		}
		m.attachments = append(m.attachments, name)
	}
	return m, nil
}

func addresses(env *enmime.Envelope, header string) []string {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func (m *message) metadata() *document.EmailMetadata {
	meta := &document.EmailMetadata{
		ToEmails:    m.to,
		CcEmails:    m.cc,
		BccEmails:   m.bcc,
		MessageID:   m.messageID,
		Attachments: m.attachments,
	}
	if m.from != nil {
		meta.FromEmail = m.from.Address
		meta.FromName = m.from.Name
	}
	return meta
}

// sections renders the header block, the body paragraphs and the
// attachment list. level is the subject heading level.
func (m *message) sections(level int) []document.Section {
	var out []document.Section
	if m.subject != "" {
		out = append(out, document.Section{Title: m.subject, Text: m.subject, Level: level, Type: typeHeading})
	}
	var head []string
	if m.from != nil {
		head = append(head, "From: "+m.from.String())
	}
	if len(m.to) > 0 {
		head = append(head, "To: "+strings.Join(m.to, ", "))
	}
	if len(m.cc) > 0 {
		head = append(head, "Cc: "+strings.Join(m.cc, ", "))
	}
	if m.date != "" {
		head = append(head, "Date: "+m.date)
	}
	if len(head) > 0 {
		out = append(out, document.Section{Text: strings.Join(head, "\n"), Type: typeParagraph, Metadata: map[string]string{"role": "headers"}})
	}
	for _, para := range splitParagraphs(strings.ReplaceAll(m.body, "\r\n", "\n")) {
		out = append(out, document.Section{Text: para, Type: typeParagraph})
	}
	if len(m.attachments) > 0 {
		out = append(out, document.Section{Text: strings.Join(m.attachments, "\n"), Type: typeList, Metadata: map[string]string{"role": "attachments"}})
	}
	return out
}
