package mailparse

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message"
)

// WithoutAttachments rewrites the message with every attachment part
// dropped. Non-multipart messages come back unchanged.
func WithoutAttachments(raw []byte) ([]byte, error) {
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if e.MultipartReader() == nil {
		return raw, nil
	}

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, e.Header)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	if err := copyParts(w, e); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func copyParts(w *message.Writer, e *message.Entity) error {
	mr := e.MultipartReader()
	if mr == nil {
		_, err := io.Copy(w, e.Body)
		return err
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next part: %w", err)
		}
		if disp, _, _ := p.Header.ContentDisposition(); disp == "attachment" {
			continue
		}
		pw, err := w.CreatePart(p.Header)
		if err != nil {
			return fmt.Errorf("create part: %w", err)
		}
		if err := copyParts(pw, p); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("close part: %w", err)
		}
	}
}
