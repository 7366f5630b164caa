package mailparse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const simpleMail = "Delivered-To: alice@example.com\r\n" +
	"Received: from relay.sender.net (relay.sender.net [203.0.113.9]) by mx.example.com; Mon, 02 Jun 2025 10:30:00 +0000\r\n" +
	"Authentication-Results: mx.example.com; spf=pass smtp.mailfrom=sender.net; dkim=pass header.d=sender.net; dmarc=pass header.from=sender.net\r\n" +
	"From: Bob Sender <bob@sender.net>\r\n" +
	"To: Alice <alice@example.com>\r\n" +
	"Subject: Hello\r\n" +
	"Date: Mon, 02 Jun 2025 10:29:55 +0000\r\n" +
	"Message-ID: <abc123@sender.net>\r\n" +
	"In-Reply-To: <prev456@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi Alice.\r\n"

func TestParseSimple(t *testing.T) {
	m, err := Parse([]byte(simpleMail))
	require.NoError(t, err)

	require.Equal(t, "Hello", m.Subject)
	require.Equal(t, "<abc123@sender.net>", m.MessageID)
	require.Equal(t, "<prev456@example.com>", m.InReplyTo)
	require.Equal(t, "alice@example.com", m.DeliveredTo)
	require.NotNil(t, m.From)
	require.Equal(t, "bob@sender.net", m.From.Address)
	require.Equal(t, "Bob Sender", m.From.Name)
	require.Len(t, m.To, 1)
	require.Contains(t, m.BodyPlain, "Hi Alice.")
	require.Empty(t, m.Attachments)
}

func TestParseReceivedStamp(t *testing.T) {
	m, err := Parse([]byte(simpleMail))
	require.NoError(t, err)

	relay := m.ReceivedStamp()
	require.Equal(t, "relay.sender.net", relay.FromHost)
	require.Equal(t, "203.0.113.9", relay.FromIP)
	require.NotNil(t, relay.At)
	require.Equal(t, 10, relay.At.Hour())
}

func TestParseAuthResults(t *testing.T) {
	m, err := Parse([]byte(simpleMail))
	require.NoError(t, err)

	ar := m.AuthenticationResults()
	require.True(t, ar.SPFPass)
	require.True(t, ar.DKIMPass)
	require.True(t, ar.DMARCPass)
	require.Contains(t, ar.SPFDescription, "pass")
}

func multipartMail() string {
	return "From: bob@sender.net\r\n" +
		"To: alice@example.com\r\n" +
		"Subject: With attachment\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Hello</p>\r\n" +
		"--outer\r\n" +
		"Content-Type: application/pdf; name=\"doc.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"doc.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERi0xLjQ=\r\n" +
		"--outer--\r\n"
}

func TestParseMultipart(t *testing.T) {
	m, err := Parse([]byte(multipartMail()))
	require.NoError(t, err)

	require.Contains(t, m.BodyHTML, "<p>Hello</p>")
	require.Len(t, m.Attachments, 1)
	att := m.Attachments[0]
	require.Equal(t, "doc.pdf", att.Filename)
	require.Equal(t, "application/pdf", att.ContentType)
	require.False(t, att.Inline)
	require.Equal(t, []byte("%PDF-1.4"), att.Content)
}

func TestWithoutAttachments(t *testing.T) {
	stripped, err := WithoutAttachments([]byte(multipartMail()))
	require.NoError(t, err)

	s := string(stripped)
	require.Contains(t, s, "<p>Hello</p>")
	require.NotContains(t, s, "doc.pdf")

	m, err := Parse(stripped)
	require.NoError(t, err)
	require.Empty(t, m.Attachments)
}

func TestWithoutAttachmentsPassthrough(t *testing.T) {
	stripped, err := WithoutAttachments([]byte(simpleMail))
	require.NoError(t, err)
	require.True(t, strings.Contains(string(stripped), "Hi Alice."))
}
