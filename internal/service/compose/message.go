package compose

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"

	"github.com/ignite/mailflow/internal/domain"
)

// headerMailID carries the internal mail id on the wire so delivery
// reports can be correlated even before a queue id exists.
const headerMailID = "X-MF-ID"

// reservedHeaderPrefix is the platform namespace; user headers may not
// use it.
const reservedHeaderPrefix = "X-MF-"

type buildInput struct {
	mailID    string
	from      *mail.Address
	to        []*mail.Address
	cc        []*mail.Address
	replyTo   string
	subject   string
	inReplyTo string // canonical form, with angle brackets
	date      time.Time
	bodyHTML  string
	bodyPlain string
	headers   []domain.CustomHeader
	parts     []domain.AttachmentInput
}

// buildMessage assembles the outgoing MIME message and returns the raw
// bytes plus the canonical Message-ID.
func buildMessage(in buildInput) ([]byte, string, error) {
	var h gomail.Header
	h.SetDate(in.date)
	h.SetSubject(in.subject)
	h.SetAddressList("From", []*mail.Address{in.from})
	if len(in.to) > 0 {
		h.SetAddressList("To", in.to)
	}
	if len(in.cc) > 0 {
		h.SetAddressList("Cc", in.cc)
	}
	if in.replyTo != "" {
		h.Set("Reply-To", in.replyTo)
	}
	if in.inReplyTo != "" {
		h.Set("In-Reply-To", in.inReplyTo)
	}
	id := newMessageID(domainOf(in.from.Address))
	h.SetMessageID(id)
	h.Set(headerMailID, in.mailID)
	for _, ch := range in.headers {
		h.Set(ch.Name, ch.Value)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, "", fmt.Errorf("create inline writer: %w", err)
	}
	if err := writeTextPart(iw, "text/plain", in.bodyPlain); err != nil {
		return nil, "", err
	}
	if in.bodyHTML != "" {
		if err := writeTextPart(iw, "text/html", in.bodyHTML); err != nil {
			return nil, "", err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, "", fmt.Errorf("close inline writer: %w", err)
	}

	for _, att := range in.parts {
		var ah gomail.AttachmentHeader
		ctype := att.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		ah.SetContentType(ctype, nil)
		ah.SetFilename(att.Filename)
		if att.Inline && att.ContentID != "" {
			ah.Set("Content-Disposition",
				mime.FormatMediaType("inline", map[string]string{"filename": att.Filename}))
			ah.Set("Content-Id", "<"+att.ContentID+">")
		}
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, "", fmt.Errorf("create attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, "", fmt.Errorf("write attachment %s: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, "", fmt.Errorf("close attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), "<" + id + ">", nil
}

func writeTextPart(iw *gomail.InlineWriter, ctype, body string) error {
	var th gomail.InlineHeader
	th.SetContentType(ctype, map[string]string{"charset": "utf-8"})
	pw, err := iw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("create %s part: %w", ctype, err)
	}
	if _, err := pw.Write([]byte(body)); err != nil {
		return fmt.Errorf("write %s part: %w", ctype, err)
	}
	return pw.Close()
}

// rewriteRawMessage takes a caller-supplied message as-is, reinjecting
// the resolved sender, stripping Bcc and stamping the internal id. A
// missing Message-ID is generated.
func rewriteRawMessage(raw []byte, mailID string, from *mail.Address, replyTo, domainName string) ([]byte, string, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, "", invalid(KindBadRawMessage, "unreadable raw message: %v", err)
	}

	e.Header.Set("From", from.String())
	if replyTo != "" {
		e.Header.Set("Reply-To", replyTo)
	}

	h := gomail.Header{Header: e.Header}
	id, err := h.MessageID()
	if err != nil || id == "" {
		id = newMessageID(domainName)
		e.Header.Set("Message-Id", "<"+id+">")
	}
	e.Header.Del("Bcc")
	e.Header.Set(headerMailID, mailID)

	var buf bytes.Buffer
	if err := e.WriteTo(&buf); err != nil {
		return nil, "", fmt.Errorf("rewrite raw message: %w", err)
	}
	return buf.Bytes(), "<" + id + ">", nil
}

// newMessageID generates a unique id in the sending domain, without
// angle brackets.
func newMessageID(domainName string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s.%d@%s", hex.EncodeToString(b), time.Now().UnixNano(), domainName)
}

func domainOf(email string) string {
	if _, d, ok := strings.Cut(email, "@"); ok {
		return d
	}
	return email
}

// rewriteInlineRefs points img src attributes at the Content-ID of the
// matching inline attachment.
func rewriteInlineRefs(html string, parts []domain.AttachmentInput) string {
	for _, a := range parts {
		if !a.Inline || a.ContentID == "" {
			continue
		}
		cid := `src="cid:` + a.ContentID + `"`
		html = strings.ReplaceAll(html, `src="`+a.Filename+`"`, cid)
		html = strings.ReplaceAll(html, `src='`+a.Filename+`'`, cid)
	}
	return html
}

// injectTrackingPixel appends the 1x1 open beacon, before </body> when
// the document has one.
func injectTrackingPixel(html, pixelURL string) string {
	img := `<img src="` + pixelURL + `" width="1" height="1" style="display:none;">`
	if i := strings.LastIndex(strings.ToLower(html), "</body>"); i >= 0 {
		return html[:i] + img + html[i:]
	}
	return html + img
}
