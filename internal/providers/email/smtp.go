package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPNotifier struct {
	cfg Config
}

func NewSMTP(cfg Config) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) InvoiceProcessed(ctx context.Context, event Event) error {
	to := strings.TrimSpace(event.Recipient)
	if to == "" {
		return fmt.Errorf("notification has no recipient")
	}

	subject := fmt.Sprintf("Invoice %s is %s", event.InvoiceNumber, strings.ToLower(event.Status))
	body := fmt.Sprintf(
		"Invoice %s (id %s) was processed.\r\nStatus: %s\r\nRisk level: %s\r\n",
		event.InvoiceNumber, event.InvoiceID, event.Status, event.RiskLevel,
	)

	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", to, subject, body))

	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	return smtp.SendMail(addr, auth, n.cfg.From, []string{to}, msg)
}
