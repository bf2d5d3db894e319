// Package notify delivers the new entries found for a folder.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"

	"github.com/agentworkforce/drivewatch/internal/drivesync"
	"github.com/agentworkforce/drivewatch/internal/logging"
)

var ErrNoRecipients = errors.New("no recipients")

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// SendMail replaces smtp.SendMail, mainly in tests.
	SendMail SendMailFunc
	Logger   *slog.Logger
}

// EmailNotifier sends one plain-text message per folder and run.
type EmailNotifier struct {
	addr     string
	auth     smtp.Auth
	from     string
	sendMail SendMailFunc
	logger   *slog.Logger
}

func NewEmailNotifier(opts SMTPOptions) *EmailNotifier {
	port := opts.Port
	if port <= 0 {
		port = 587
	}
	var auth smtp.Auth
	if opts.Username != "" {
		auth = smtp.PlainAuth("", opts.Username, opts.Password, opts.Host)
	}
	sendMail := opts.SendMail
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Component("notify")
	}
	return &EmailNotifier{
		addr:     net.JoinHostPort(opts.Host, strconv.Itoa(port)),
		auth:     auth,
		from:     opts.From,
		sendMail: sendMail,
		logger:   logger,
	}
}

// Notify accepts a comma or semicolon separated recipient list.
func (n *EmailNotifier) Notify(ctx context.Context, recipient, folderName string, entries []drivesync.Entry) error {
	to := splitRecipients(recipient)
	if len(to) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(n.from, to, folderName, entries)
	if err != nil {
		return err
	}
	if err := n.sendMail(n.addr, n.auth, n.from, to, msg); err != nil {
		n.logger.Error("send notification failed", "to", strings.Join(to, ", "), "folder", folderName, "error", err)
		return fmt.Errorf("send notification: %w", err)
	}
	n.logger.Info("notification sent", "to", strings.Join(to, ", "), "folder", folderName, "entries", len(entries))
	return nil
}

// LogNotifier only logs. It stands in when no SMTP host is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, recipient, folderName string, entries []drivesync.Entry) error {
	logger := n.Logger
	if logger == nil {
		logger = logging.Component("notify")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	logger.Info("new entries", "recipient", recipient, "folder", folderName, "count", len(entries), "names", names)
	return nil
}

var bodyTemplate = template.Must(template.New("body").Parse(
	`{{len .Entries}} new item(s) in "{{.Folder}}":
{{range .Entries}}
- {{.Name}} ({{.Kind}})
  {{.URL}}
  in {{.AncestryPath}}{{if not .LastUpdated.IsZero}}, updated {{.LastUpdated.UTC.Format "2006-01-02 15:04 MST"}}{{end}}, owner {{.Owner}}
{{end}}`))

func buildMessage(from string, to []string, folderName string, entries []drivesync.Entry) ([]byte, error) {
	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, struct {
		Folder  string
		Entries []drivesync.Entry
	}{Folder: folderName, Entries: entries}); err != nil {
		return nil, fmt.Errorf("render notification: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(fmt.Sprintf("[drivewatch] %d new in %s", len(entries), folderName)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body.String(), "\n", "\r\n"))
	return msg.Bytes(), nil
}

func splitRecipients(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if addr := strings.TrimSpace(field); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}
