// Package spam scores messages against a spamd (SpamAssassin) daemon
// over its TCP protocol and applies the configured scanning mode.
package spam

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/mailparse"
)

// Result is the outcome of one scan.
type Result struct {
	Score     float64
	Threshold float64
	IsSpam    bool
	// Headers holds the X-Spam-* headers stamped on the scanned copy.
	Headers map[string]string
	// ScannedSize is the byte size of what was actually sent to spamd
	// (smaller than the message when attachments were excluded).
	ScannedSize int
}

// Scanner talks to one spamd instance.
type Scanner struct {
	addr            string
	timeout         time.Duration
	mode            domain.ScanningMode
	hybridThreshold float64
}

// NewScanner creates a scanner for the given spamd host and mode.
func NewScanner(host string, port int, mode domain.ScanningMode, hybridThreshold float64, timeout time.Duration) *Scanner {
	return &Scanner{
		addr:            net.JoinHostPort(host, strconv.Itoa(port)),
		timeout:         timeout,
		mode:            mode,
		hybridThreshold: hybridThreshold,
	}
}

// Scan scores the message per the configured mode. Hybrid scans the
// attachment-free copy first and rescans the full message only when the
// first pass already reaches the hybrid threshold.
func (s *Scanner) Scan(ctx context.Context, raw []byte) (*Result, error) {
	switch s.mode {
	case domain.ScanIncludeAttachments:
		return s.scanOnce(ctx, raw)

	case domain.ScanExcludeAttachments:
		stripped, err := mailparse.WithoutAttachments(raw)
		if err != nil {
			return nil, fmt.Errorf("strip attachments: %w", err)
		}
		return s.scanOnce(ctx, stripped)

	case domain.ScanHybrid:
		stripped, err := mailparse.WithoutAttachments(raw)
		if err != nil {
			return nil, fmt.Errorf("strip attachments: %w", err)
		}
		res, err := s.scanOnce(ctx, stripped)
		if err != nil {
			return nil, err
		}
		if res.Score < s.hybridThreshold || len(stripped) == len(raw) {
			return res, nil
		}
		return s.scanOnce(ctx, raw)

	default:
		return nil, fmt.Errorf("unknown scanning mode %q", s.mode)
	}
}

var scoreRe = regexp.MustCompile(`score=([-\d.]+)`)

// scanOnce performs one PROCESS round-trip.
func (s *Scanner) scanOnce(ctx context.Context, body []byte) (*Result, error) {
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("dial spamd: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.timeout))
	}

	fmt.Fprintf(conn, "PROCESS SPAMC/1.5\r\nContent-length: %d\r\n\r\n", len(body))
	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}

	tp := textproto.NewReader(bufio.NewReader(conn))
	status, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read spamd status: %w", err)
	}
	if !strings.Contains(status, "EX_OK") {
		return nil, fmt.Errorf("spamd error: %s", status)
	}

	respHeaders, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("read spamd headers: %w", err)
	}

	res := &Result{ScannedSize: len(body), Headers: map[string]string{}}
	parseSpamHeader(respHeaders.Get("Spam"), res)

	// The body is the processed message carrying the X-Spam-* headers
	msgHeaders, err := tp.ReadMIMEHeader()
	if err == nil {
		for key, vals := range msgHeaders {
			if strings.HasPrefix(key, "X-Spam-") && len(vals) > 0 {
				res.Headers[key] = vals[0]
			}
		}
	}

	// Fall back to X-Spam-Status when the Spam response header is absent
	if res.Score == 0 {
		if m := scoreRe.FindStringSubmatch(res.Headers["X-Spam-Status"]); m != nil {
			res.Score, _ = strconv.ParseFloat(m[1], 64)
		}
	}
	return res, nil
}

// parseSpamHeader reads "True ; 5.2 / 5.0" into the result.
func parseSpamHeader(v string, res *Result) {
	if v == "" {
		return
	}
	parts := strings.SplitN(v, ";", 2)
	res.IsSpam = strings.EqualFold(strings.TrimSpace(parts[0]), "true")
	if len(parts) == 2 {
		nums := strings.SplitN(parts[1], "/", 2)
		if len(nums) == 2 {
			res.Score, _ = strconv.ParseFloat(strings.TrimSpace(nums[0]), 64)
			res.Threshold, _ = strconv.ParseFloat(strings.TrimSpace(nums[1]), 64)
		}
	}
}
