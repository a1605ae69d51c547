package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	mail "github.com/go-mail/mail"
	"github.com/rs/zerolog/log"
)

type sender interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPDelivery mails the raw key to the tenant contact.
type SMTPDelivery struct {
	From   string
	dialer sender
}

func NewSMTPDelivery(host string, port int, user, pass, from string) *SMTPDelivery {
	d := mail.NewDialer(host, port, user, pass)
	d.TLSConfig = &tls.Config{ServerName: host}
	if port == 465 {
		d.SSL = true
	}
	return &SMTPDelivery{From: from, dialer: d}
}

func (s *SMTPDelivery) Deliver(ctx context.Context, n KeyNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", n.Email)
	m.SetHeader("Subject", "Your Ellit Shield API key")
	m.SetBody("text/plain", keyMessage(n))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Info().Str("tenant_id", n.TenantID.String()).Str("to", n.Email).Msg("API key mailed")
	return nil
}

func keyMessage(n KeyNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", n.TenantName)
	b.WriteString("Your Ellit Shield tenant is ready. This is your API key:\n\n")
	fmt.Fprintf(&b, "    %s\n\n", n.RawKey)
	b.WriteString("It is shown only once and cannot be recovered. Store it in your secrets manager.\n")
	fmt.Fprintf(&b, "\nTenant ID: %s\n", n.TenantID)
	return b.String()
}
