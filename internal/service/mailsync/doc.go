// Package mailsync serves the incremental pull API: clients fetch the
// incoming mails of a mailbox processed since their last call, with a
// per-(source, user, mailbox) cursor maintained server-side.
package mailsync
