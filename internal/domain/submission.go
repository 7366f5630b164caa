package domain

// Context carries the request identity through the services. It replaces
// any notion of ambient session state: whoever calls passes it explicitly.
type Context struct {
	User      string
	RequestIP string
	// Site is the caller-declared origin (X-Site header), used as the
	// sync cursor source; falls back to RequestIP.
	Site string
}

// Source returns the cursor source for this caller.
func (c Context) Source() string {
	if c.Site != "" {
		return c.Site
	}
	return c.RequestIP
}

// Submission is a request to compose and send one outgoing mail.
type Submission struct {
	Sender      string `json:"sender"`
	DisplayName string `json:"display_name"`

	To  []string `json:"to"`
	Cc  []string `json:"cc"`
	Bcc []string `json:"bcc"`

	Subject   string `json:"subject"`
	BodyHTML  string `json:"body_html"`
	BodyPlain string `json:"body_plain"`
	ReplyTo   string `json:"reply_to"`

	// Threading: internal pointer to the mail being replied to.
	InReplyToMailID   string `json:"in_reply_to_mail_id"`
	InReplyToMailType string `json:"in_reply_to_mail_type"`

	CustomHeaders []CustomHeader    `json:"custom_headers"`
	Attachments   []AttachmentInput `json:"attachments"`

	// RawMessage, when set, overrides the structured fields: the message
	// is taken as-is except for sender reinjection and policy headers.
	RawMessage []byte `json:"raw_message"`

	IsNewsletter bool `json:"is_newsletter"`
	ViaAPI       bool `json:"-"`

	// DoNotSubmit leaves the mail in Drafts instead of queueing it.
	DoNotSubmit bool `json:"do_not_submit"`
}

// AttachmentInput is one uploaded attachment in a submission.
type AttachmentInput struct {
	Filename    string `json:"filename"`
	Content     []byte `json:"content"`
	ContentType string `json:"content_type"`
	Inline      bool   `json:"inline"`
	ContentID   string `json:"content_id"`
}
