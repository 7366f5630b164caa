package mailparse

import (
	"regexp"
	"strings"
	"time"
)

// Relay is the provenance extracted from the trusted Received header
// (the first one, stamped by our own edge agent).
type Relay struct {
	FromHost string
	FromIP   string
	At       *time.Time
}

var receivedRe = regexp.MustCompile(`from\s+(\S+)\s+\(([^()\[\]]*\[)?([0-9a-fA-F:.]+)\]?\)`)

// ReceivedStamp extracts the sending host, address and timestamp from the
// first Received header. Missing or malformed headers yield a zero Relay;
// intake treats provenance as best effort.
func (m *Message) ReceivedStamp() Relay {
	var r Relay
	values := m.HeaderValues("Received")
	if len(values) == 0 {
		return r
	}
	v := values[0]

	if match := receivedRe.FindStringSubmatch(v); match != nil {
		r.FromHost = match[1]
		r.FromIP = strings.Trim(match[3], "[]")
	}

	// The date sits after the last semicolon
	if idx := strings.LastIndex(v, ";"); idx >= 0 {
		dateStr := strings.TrimSpace(v[idx+1:])
		for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700", "2 Jan 2006 15:04:05 -0700"} {
			if t, err := time.Parse(layout, dateStr); err == nil {
				t = t.UTC()
				r.At = &t
				break
			}
		}
	}
	return r
}
