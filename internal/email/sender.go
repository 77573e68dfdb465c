package email

import (
	"bytes"
	"fmt"
	"log"
	"net/smtp"
	"os"
	"text/template"
)

type Sender interface {
	Send(to, subject, htmlBody string) error
}

type SMTPSender struct {
	host string
	port string
	from string
	auth smtp.Auth // nil for local dev (MailHog)
}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{
		host: getenv("SMTP_HOST", "localhost"),
		port: getenv("SMTP_PORT", "1025"),
		from: getenv("SMTP_FROM", "no-reply@example.local"),
		// auth: add when using a real provider (smtp.PlainAuth("", user, pass, host))
	}
}

func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	msg := buildRFC822(s.from, to, subject, htmlBody)
	return smtp.SendMail(addr, s.auth, s.from, []string{to}, msg)
}

func buildRFC822(from, to, subject, html string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n%s\r\n", html)
	return buf.Bytes()
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

var orderCreatedTpl = template.Must(template.New("orderCreated").Parse(`
<h2>Thanks for your order!</h2>
<p>Order ID: <b>{{.OrderID}}</b></p>
<p>Total: <b>{{printf "%.2f" .Amount}}</b></p>
<p>Complete your payment here: <a href="{{.CheckoutURL}}">{{.CheckoutURL}}</a></p>
`))

var paymentSucceededTpl = template.Must(template.New("paymentSucceeded").Parse(`
<h2>Payment received</h2>
<p>Order ID: <b>{{.OrderID}}</b></p>
<p>Amount: <b>{{printf "%.2f" .Amount}}</b></p>
<p>Your order is being prepared.</p>
`))

var paymentFailedTpl = template.Must(template.New("paymentFailed").Parse(`
<h2>Payment unsuccessful</h2>
<p>Order ID: <b>{{.OrderID}}</b></p>
<p>Amount: <b>{{printf "%.2f" .Amount}}</b></p>
<p>The payment did not complete. Please place the order again.</p>
`))

func RenderOrderCreatedEmail(orderID string, amount float64, checkoutURL string) string {
	return render(orderCreatedTpl, orderID, amount, checkoutURL)
}

func RenderPaymentSucceededEmail(orderID string, amount float64) string {
	return render(paymentSucceededTpl, orderID, amount, "")
}

func RenderPaymentFailedEmail(orderID string, amount float64) string {
	return render(paymentFailedTpl, orderID, amount, "")
}

func render(tpl *template.Template, orderID string, amount float64, checkoutURL string) string {
	var buf bytes.Buffer
	_ = tpl.Execute(&buf, map[string]any{
		"OrderID":     orderID,
		"Amount":      amount,
		"CheckoutURL": checkoutURL,
	})
	return buf.String()
}

// Fallback logger sender (useful for dev without SMTP)
type LogSender struct{}

func (LogSender) Send(to, subject, htmlBody string) error {
	log.Printf("[Email] to=%s subject=%q body=%q", to, subject, htmlBody)
	return nil
}
