package email

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"

	"marketpulse/internal/config"
	"marketpulse/internal/logger"
)

// Sender delivers report emails over SMTP with a multipart HTML+text body.
type Sender struct {
	cfg config.Email
}

// NewSender creates an SMTP sender from the email configuration.
func NewSender(cfg config.Email) *Sender {
	return &Sender{cfg: cfg}
}

// SendReport sends the rendered report to the configured recipient.
func (s *Sender) SendReport(subject, htmlBody, textBody string) error {
	if s.cfg.SMTP.Host == "" {
		return fmt.Errorf("SMTP host not configured")
	}
	if s.cfg.SMTP.Username == "" || s.cfg.SMTP.Password == "" {
		return fmt.Errorf("SMTP credentials not configured")
	}
	if s.cfg.ToAddress == "" {
		return fmt.Errorf("recipient address not configured")
	}

	from := s.cfg.FromAddress
	if from == "" {
		from = s.cfg.SMTP.Username
	}

	msg := buildMessage(from, s.cfg.FromName, s.cfg.ToAddress, subject, htmlBody, textBody)

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTP.Host, s.cfg.SMTP.Port)
	auth := smtp.PlainAuth("", s.cfg.SMTP.Username, s.cfg.SMTP.Password, s.cfg.SMTP.Host)

	var err error
	if s.cfg.SMTP.TLSEnabled {
		err = sendWithTLS(addr, s.cfg.SMTP.Host, auth, from, s.cfg.ToAddress, msg)
	} else {
		err = smtp.SendMail(addr, auth, from, []string{s.cfg.ToAddress}, []byte(msg))
	}
	if err != nil {
		return err
	}

	logger.Info("Report email sent", "to", s.cfg.ToAddress, "subject", subject)
	return nil
}

// buildMessage assembles a multipart/alternative MIME message. Bodies are
// base64 encoded to keep lines within RFC 5322 limits regardless of content.
func buildMessage(from, fromName, to, subject, htmlBody, textBody string) string {
	var msg strings.Builder
	if fromName != "" {
		msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", fromName, from))
	} else {
		msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	}
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))

	if htmlBody == "" {
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(textBody)
		return msg.String()
	}

	boundary := generateBoundary()
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	msg.WriteString("\r\n")

	if textBody != "" {
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(textBody))
		msg.WriteString("\r\n")
	}

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("Content-Transfer-Encoding: base64\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(encodeBase64WithLineBreaks(htmlBody))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return msg.String()
}

// sendWithTLS connects over direct TLS (Gmail and friends), falling back to
// STARTTLS when the direct dial fails.
func sendWithTLS(addr, host string, auth smtp.Auth, from, to, msg string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return sendWithSTARTTLS(addr, host, auth, from, to, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	return transmit(client, auth, from, to, msg)
}

// sendWithSTARTTLS dials plain SMTP and upgrades the connection.
func sendWithSTARTTLS(addr, host string, auth smtp.Auth, from, to, msg string) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	return transmit(client, auth, from, to, msg)
}

func transmit(client *smtp.Client, auth smtp.Auth, from, to, msg string) error {
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// generateBoundary creates a unique MIME boundary string.
func generateBoundary() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "marketpulse_boundary_fallback"
	}
	return fmt.Sprintf("marketpulse_%x", b)
}

// encodeBase64WithLineBreaks encodes content as base64 with 76-char lines per
// RFC 2045.
func encodeBase64WithLineBreaks(content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	var result strings.Builder
	const lineLen = 76
	for i := 0; i < len(encoded); i += lineLen {
		end := i + lineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		result.WriteString(encoded[i:end])
		if end < len(encoded) {
			result.WriteString("\r\n")
		}
	}
	return result.String()
}
