package mailer

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/mailpilot/crm-backend/internal/config"
)

// Mailer is the outbound transport collaborator. Implementations must be
// synchronous; retries and rate shaping belong to the caller.
type Mailer interface {
	Send(to, subject, htmlBody, fromName, fromEmail string) error
}

// SMTPMailer delivers via an SMTP relay. With a username configured it
// authenticates with PLAIN auth; otherwise it speaks to a local agent
// unauthenticated. Every connection is bounded by a deadline so a stalled
// relay turns into a failed outcome instead of a hung send loop.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func NewSMTPMailer(cfg config.SMTP) *SMTPMailer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPMailer{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  timeout,
	}
}

func (m *SMTPMailer) Send(to, subject, htmlBody, fromName, fromEmail string) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)

	conn, err := net.DialTimeout("tcp", addr, m.Timeout)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(m.Timeout)); err != nil {
		conn.Close()
		return err
	}

	client, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if m.Username != "" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
		auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(fromEmail); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(buildMessage(to, subject, htmlBody, fromName, fromEmail))); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMessage(to, subject, htmlBody, fromName, fromEmail string) string {
	var b strings.Builder
	if fromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, fromEmail)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", fromEmail)
	}
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return b.String()
}

var _ Mailer = (*SMTPMailer)(nil)
