package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/drivewatch/internal/drivesync"
	"github.com/agentworkforce/drivewatch/internal/logging"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func testEntries() []drivesync.Entry {
	return []drivesync.Entry{{
		Name:         "q3.pdf",
		URL:          "https://drive.google.com/file/d/q3/view",
		Kind:         drivesync.KindFile,
		LastUpdated:  time.Date(2024, 9, 30, 8, 15, 0, 0, time.UTC),
		Owner:        "alice@example.com",
		AncestryPath: "Reports > 2024",
	}}
}

func TestEmailNotifierSendsMessage(t *testing.T) {
	var got capturedMail
	notifier := NewEmailNotifier(SMTPOptions{
		Host:     "smtp.example.com",
		Port:     2525,
		Username: "user",
		Password: "pass",
		From:     "drivewatch@example.com",
		Logger:   logging.Discard(),
		SendMail: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			got = capturedMail{addr: addr, from: from, to: to, msg: string(msg)}
			return nil
		},
	})

	if err := notifier.Notify(context.Background(), "a@example.com; b@example.com", "Reports", testEntries()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if got.addr != "smtp.example.com:2525" || got.from != "drivewatch@example.com" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if len(got.to) != 2 || got.to[1] != "b@example.com" {
		t.Fatalf("expected two recipients, got %v", got.to)
	}
	for _, want := range []string{
		"Subject: [drivewatch] 1 new in Reports\r\n",
		"To: a@example.com, b@example.com\r\n",
		"- q3.pdf (File)",
		"https://drive.google.com/file/d/q3/view",
		"in Reports > 2024, updated 2024-09-30 08:15 UTC, owner alice@example.com",
	} {
		if !strings.Contains(got.msg, want) {
			t.Fatalf("expected message to contain %q, got:\n%s", want, got.msg)
		}
	}
}

func TestEmailNotifierErrors(t *testing.T) {
	notifier := NewEmailNotifier(SMTPOptions{
		Host:   "smtp.example.com",
		From:   "drivewatch@example.com",
		Logger: logging.Discard(),
		SendMail: func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		},
	})
	if err := notifier.Notify(context.Background(), " , ", "Reports", testEntries()); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected no recipients error, got %v", err)
	}
	if err := notifier.Notify(context.Background(), "a@example.com", "Reports", testEntries()); err == nil {
		t.Fatalf("expected send failure")
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{Logger: logging.Discard()}).Notify(context.Background(), "a@example.com", "Reports", testEntries()); err != nil {
		t.Fatalf("log notifier failed: %v", err)
	}
}
