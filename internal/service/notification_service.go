package service

import (
	"fmt"
	"strings"

	"abonix/config"
	"abonix/internal/models"

	gomail "gopkg.in/gomail.v2"
)

// DeliveredItem is the fulfillment content handed to the customer for one
// order item, included in the confirmation email.
type DeliveredItem struct {
	PlanName string
	Contents []string
}

// Notifier sends transactional email. Callers treat it as fire-and-forget:
// failures are logged, never propagated into payment state.
type Notifier interface {
	SendOrderConfirmation(to string, order *models.Order, delivered []DeliveredItem) error
	SendOrderCancelled(to string, order *models.Order, reason string) error
}

// EmailService sends transactional mail over SMTP. With no SMTP host
// configured it degrades to a no-op, which keeps development setups working.
type EmailService struct {
	cfg *config.SMTPConfig
}

func NewEmailService(cfg *config.SMTPConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

func (s *EmailService) send(to, subject, text, html string) error {
	if s.cfg.Host == "" {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)
	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	return d.DialAndSend(m)
}

func (s *EmailService) SendOrderConfirmation(to string, order *models.Order, delivered []DeliveredItem) error {
	subject := fmt.Sprintf("Order %s confirmed", order.OrderNumber)
	var text, html strings.Builder
	fmt.Fprintf(&text, "Your order %s has been completed.\n\n", order.OrderNumber)
	fmt.Fprintf(&html, "<p>Your order <b>%s</b> has been completed.</p>", order.OrderNumber)
	for _, d := range delivered {
		fmt.Fprintf(&text, "%s:\n", d.PlanName)
		fmt.Fprintf(&html, "<p><b>%s</b></p><ul>", d.PlanName)
		for _, c := range d.Contents {
			fmt.Fprintf(&text, "  %s\n", c)
			fmt.Fprintf(&html, "<li><code>%s</code></li>", c)
		}
		html.WriteString("</ul>")
	}
	fmt.Fprintf(&text, "\nTotal: %s %s\n", order.TotalAmount.StringFixed(2), order.Currency)
	fmt.Fprintf(&html, "<p>Total: %s %s</p>", order.TotalAmount.StringFixed(2), order.Currency)
	return s.send(to, subject, text.String(), html.String())
}

func (s *EmailService) SendOrderCancelled(to string, order *models.Order, reason string) error {
	subject := fmt.Sprintf("Order %s cancelled", order.OrderNumber)
	text := fmt.Sprintf(
		"Your order %s was cancelled: %s\n\nYour payment was received and will be refunded. Our support team will contact you.\n",
		order.OrderNumber, reason)
	html := fmt.Sprintf(
		"<p>Your order <b>%s</b> was cancelled: %s</p><p>Your payment was received and will be refunded. Our support team will contact you.</p>",
		order.OrderNumber, reason)
	return s.send(to, subject, text, html)
}
