package actions

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/autoflow/pkg/automation"
)

// EmailMessage is one outgoing HTML email.
type EmailMessage struct {
	From     string
	To       []string
	CC       []string
	BCC      []string
	Subject  string
	HTMLBody string
}

func (m EmailMessage) recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	out = append(out, m.To...)
	out = append(out, m.CC...)
	return append(out, m.BCC...)
}

// Mailer delivers email and returns a short delivery report.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

type email struct {
	mailer Mailer
}

func (e *email) send(ctx context.Context, in automation.SendEmailSMTPInputs, _ *automation.RunContext) (automation.SendEmailOutputs, error) {
	msg := EmailMessage{
		From:     strings.TrimSpace(in.From),
		To:       splitAddresses(in.To),
		CC:       splitAddresses(in.CC),
		BCC:      splitAddresses(in.BCC),
		Subject:  in.Subject,
		HTMLBody: in.Contents,
	}
	if _, err := mail.ParseAddress(msg.From); err != nil {
		return automation.SendEmailOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: fmt.Sprintf("invalid from address %q", msg.From)}
	}
	for _, addr := range msg.recipients() {
		if _, err := mail.ParseAddress(addr); err != nil {
			return automation.SendEmailOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: fmt.Sprintf("invalid recipient address %q", addr)}
		}
	}
	if len(msg.To) == 0 {
		return automation.SendEmailOutputs{}, &automation.StepError{Code: automation.ErrInvalidInput, Message: "at least one recipient is required"}
	}

	reply, err := e.mailer.Send(ctx, msg)
	if err != nil {
		return automation.SendEmailOutputs{}, automation.Failf("send email: %v", err)
	}
	return automation.SendEmailOutputs{Success: true, Response: reply}, nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// Timeout bounds dialing and the whole conversation. Defaults to 30s.
	Timeout time.Duration
	// InsecureSkipVerify disables certificate checks for STARTTLS.
	InsecureSkipVerify bool
}

// SMTPMailer sends mail through one SMTP relay, upgrading to TLS when the
// server offers STARTTLS.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer returns a mailer for cfg. Port defaults to 587.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPMailer{cfg: cfg}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg EmailMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: m.cfg.Host, InsecureSkipVerify: m.cfg.InsecureSkipVerify, MinVersion: tls.VersionTLS12}
		if err := c.StartTLS(tlsCfg); err != nil {
			return "", fmt.Errorf("starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return "", fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(envelope(msg.From)); err != nil {
		return "", fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range msg.recipients() {
		if err := c.Rcpt(envelope(rcpt)); err != nil {
			return "", fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(buildMessage(msg)); err != nil {
		return "", fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish message: %w", err)
	}
	if err := c.Quit(); err != nil {
		return "", fmt.Errorf("QUIT: %w", err)
	}
	return fmt.Sprintf("message accepted by %s for %d recipients", addr, len(msg.recipients())), nil
}

// envelope strips the display name from an address for MAIL and RCPT.
func envelope(addr string) string {
	if a, err := mail.ParseAddress(addr); err == nil {
		return a.Address
	}
	return addr
}

// buildMessage renders the RFC 5322 message. BCC recipients are left out of
// the headers.
func buildMessage(msg EmailMessage) []byte {
	var b strings.Builder
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		header("Cc", strings.Join(msg.CC, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	return []byte(b.String())
}
