package notify

import (
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// Mailer sends one notification email.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer talks plain SMTP, with AUTH PLAIN when credentials are set.
type SMTPMailer struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
	FromName string
}

var _ Mailer = (*SMTPMailer)(nil)

func (m *SMTPMailer) Send(to, subject, body string) error {
	from := m.From
	if m.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.FromName, m.From)
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if m.Username != "" {
		host, _, err := net.SplitHostPort(m.Addr)
		if err != nil {
			host = m.Addr
		}
		auth = smtp.PlainAuth("", m.Username, m.Password, host)
	}
	if err := smtp.SendMail(m.Addr, auth, m.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("notify: send mail to %s: %w", to, err)
	}
	return nil
}
