// Package smtp sends the service's outbound email (verification codes).
// Settings come from the environment; the password is never returned by
// any endpoint.
package smtp

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"
)

// Encryption modes.
const (
	EncryptionStartTLS = "starttls"
	EncryptionSSL      = "ssl"
	EncryptionNone     = "none"
)

// Status is the admin-facing view of the mail configuration.
type Status struct {
	Configured  bool    `json:"configured"`
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	Encryption  string  `json:"encryption"`
	FromAddress string  `json:"from_address"`
	HasPassword bool    `json:"has_password"`
	PerSecond   float64 `json:"per_second"`
}

// TestResult is returned by a successful connection test.
type TestResult struct {
	Status    string `json:"status"`
	Host      string `json:"host"`
	LatencyMS int64  `json:"latency_ms"`
}

// Mail is one outbound message.
type Mail struct {
	To      []string
	Subject string
	Body    string
}

// headerValue strips CR and LF so user-influenced values cannot inject
// extra headers.
func headerValue(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// buildMessage renders an RFC 5322 plain-text message.
func buildMessage(from mail.Address, m Mail, now time.Time) string {
	to := make([]string, len(m.To))
	for i, addr := range m.To {
		to[i] = headerValue(addr)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from.String())
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(m.Subject)))
	fmt.Fprintf(&msg, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(strings.ReplaceAll(m.Body, "\r\n", "\n"), "\n", "\r\n"))
	return msg.String()
}
