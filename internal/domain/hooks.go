package domain

import "time"

// TransferPayload is the body published to the outbound queue for each
// transferred mail.
type TransferPayload struct {
	OutgoingMail string   `json:"outgoing_mail"`
	Recipients   []string `json:"recipients"`
	Message      string   `json:"message"`
}

// Delivery hook kinds reported by the delivery agents.
const (
	HookQueueOK   = "queue_ok"
	HookDeferred  = "deferred"
	HookBounce    = "bounce"
	HookDelivered = "delivered"
)

// DeliveryHook is one status report consumed from the status queue.
// Either OutgoingMail or QueueID identifies the mail; the AMQP app_id
// carries the reporting agent.
type DeliveryHook struct {
	Hook         string `json:"hook"`
	OutgoingMail string `json:"outgoing_mail,omitempty"`
	QueueID      string `json:"queue_id,omitempty"`

	// deferred / bounce
	RcptTo   []HookRecipient `json:"rcpt_to,omitempty"`
	Retries  int             `json:"retries,omitempty"`
	ActionAt *time.Time      `json:"action_at,omitempty"`
	Response string          `json:"response,omitempty"`

	// delivered
	Params *DeliveredParams `json:"params,omitempty"`
}

// HookRecipient identifies one envelope recipient inside a hook.
// Original is the address as the agent saw it (may carry a display name).
type HookRecipient struct {
	Original string `json:"original"`
}

// DeliveredParams carries the SMTP session detail recorded per
// successfully delivered recipient.
type DeliveredParams struct {
	Host     string          `json:"host"`
	IP       string          `json:"ip"`
	Response string          `json:"response"`
	Delay    float64         `json:"delay"`
	Port     int             `json:"port"`
	Mode     string          `json:"mode"`
	OkRecips []HookRecipient `json:"ok_recips"`
	Secured  bool            `json:"secured"`
	Verified bool            `json:"verified"`
}
