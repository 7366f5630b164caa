// Package mailparse reads RFC 5322 messages into the shapes the intake
// and composer pipelines work with: typed headers, body alternatives,
// attachment parts and relay provenance.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Part is one attachment or inline part of a parsed message.
type Part struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Content     []byte
}

// Message is a parsed RFC 5322 message.
type Message struct {
	Raw []byte

	Subject   string
	MessageID string // canonical form, with angle brackets
	InReplyTo string // canonical form, with angle brackets

	From    *netmail.Address
	To      []*netmail.Address
	Cc      []*netmail.Address
	ReplyTo []*netmail.Address

	Date        time.Time
	DeliveredTo string

	BodyHTML  string
	BodyPlain string

	Attachments []Part

	header mail.Header
}

// Parse reads a complete message. Bodies are decoded per their transfer
// encoding and charset; unknown charsets fail the parse.
func Parse(raw []byte) (*Message, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}

	h := mail.Header{Header: e.Header}
	m := &Message{
		Raw:         raw,
		header:      h,
		DeliveredTo: strings.TrimSpace(e.Header.Get("Delivered-To")),
	}

	m.Subject, _ = h.Subject()
	m.Date, _ = h.Date()
	if id, err := h.MessageID(); err == nil && id != "" {
		m.MessageID = "<" + id + ">"
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		m.InReplyTo = "<" + ids[0] + ">"
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		m.From = &netmail.Address{Name: from[0].Name, Address: from[0].Address}
	}
	m.To = toNetAddresses(h, "To")
	m.Cc = toNetAddresses(h, "Cc")
	m.ReplyTo = toNetAddresses(h, "Reply-To")

	if err := m.walk(e); err != nil {
		return nil, err
	}
	return m, nil
}

func toNetAddresses(h mail.Header, key string) []*netmail.Address {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]*netmail.Address, 0, len(list))
	for _, a := range list {
		out = append(out, &netmail.Address{Name: a.Name, Address: a.Address})
	}
	return out
}

// walk descends into multipart entities collecting bodies and attachments.
func (m *Message) walk(e *message.Entity) error {
	mr := e.MultipartReader()
	if mr == nil {
		return m.leaf(e)
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next part: %w", err)
		}
		if err := m.walk(p); err != nil {
			return err
		}
	}
}

func (m *Message) leaf(e *message.Entity) error {
	body, err := io.ReadAll(e.Body)
	if err != nil {
		return fmt.Errorf("read part body: %w", err)
	}

	disp, dispParams, _ := e.Header.ContentDisposition()
	ctype, ctParams, _ := e.Header.ContentType()

	cid := strings.Trim(e.Header.Get("Content-Id"), "<> ")
	filename := dispParams["filename"]
	if filename == "" {
		filename = ctParams["name"]
	}
	if disp == "attachment" || cid != "" || (disp == "inline" && filename != "") {
		m.Attachments = append(m.Attachments, Part{
			Filename:    filename,
			ContentType: ctype,
			ContentID:   cid,
			Inline:      disp == "inline",
			Content:     body,
		})
		return nil
	}

	switch ctype {
	case "text/html":
		if m.BodyHTML == "" {
			m.BodyHTML = string(body)
		}
	case "text/plain", "":
		if m.BodyPlain == "" {
			m.BodyPlain = string(body)
		}
	}
	return nil
}

// Header returns the typed top-level header.
func (m *Message) Header() mail.Header { return m.header }

// HeaderValues returns every value of the named header, in order.
func (m *Message) HeaderValues(key string) []string {
	var out []string
	fields := m.header.FieldsByKey(key)
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			v = fields.Value()
		}
		out = append(out, v)
	}
	return out
}

// Size returns the raw message size in bytes.
func (m *Message) Size() int { return len(m.Raw) }
