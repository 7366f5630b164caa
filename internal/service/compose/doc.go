// Package compose turns submissions into signed, queueable outgoing
// mails: recipient and header validation, MIME assembly, inline image
// and tracking pixel handling, DKIM signing, the outbound spam gate and
// persistence. It also builds replies, retries and rejection bounces.
package compose
