// Package mail delivers license keys to purchasers over SMTP. Delivery is a
// best-effort channel: issuance is already committed when Send runs, so
// failures are reported to the caller for logging and manual follow-up but
// never roll back a license.
package mail

import (
	"bytes"
	"context"
	"html/template"

	gomail "gopkg.in/gomail.v2"
)

// Mailer dispatches a license-delivery message to a purchaser.
type Mailer interface {
	// Send delivers the license email. The context bounds the attempt;
	// transport rejections surface as errors.
	Send(ctx context.Context, email, name, licenseKey, transactionID string) error
}

// SMTPMailer is the production Mailer backed by an SMTP relay.
type SMTPMailer struct {
	dialer  *gomail.Dialer
	from    string
	replyTo string
}

// NewSMTPMailer configures a mailer for the given relay. Credentials may be
// empty for an unauthenticated relay (e.g. a local forwarder).
func NewSMTPMailer(host string, port int, username, password, from, replyTo string) *SMTPMailer {
	return &SMTPMailer{
		dialer:  gomail.NewDialer(host, port, username, password),
		from:    from,
		replyTo: replyTo,
	}
}

// Send renders and dispatches the license email.
func (m *SMTPMailer) Send(ctx context.Context, email, name, licenseKey, transactionID string) error {
	// gomail does not take a context; honor cancellation up front so a
	// cancelled webhook request never opens a dial.
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := RenderLicenseEmail(name, licenseKey, transactionID)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	if m.replyTo != "" {
		msg.SetHeader("Reply-To", m.replyTo)
	}
	msg.SetHeader("Subject", "Your Cliperton Pro License Key")
	msg.SetBody("text/html", body)

	return m.dialer.DialAndSend(msg)
}

// RenderLicenseEmail produces the HTML body containing the key and
// activation instructions. Exported so tests and support tooling can preview
// the exact message a purchaser receives.
func RenderLicenseEmail(name, licenseKey, transactionID string) (string, error) {
	if name == "" {
		name = "Customer"
	}
	var buf bytes.Buffer
	err := licenseEmailTmpl.Execute(&buf, struct {
		Name       string
		LicenseKey string
		OrderID    string
	}{Name: name, LicenseKey: licenseKey, OrderID: transactionID})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

var licenseEmailTmpl = template.Must(template.New("license-email").Parse(`<html>
<head>
  <title>Cliperton Pro License</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #3498db; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9f9f9; padding: 30px; border-radius: 0 0 8px 8px; }
    .license-key { background: #2c3e50; color: white; padding: 15px; font-size: 18px; font-weight: bold; text-align: center; border-radius: 5px; letter-spacing: 2px; margin: 20px 0; }
    .instructions { background: white; padding: 20px; border-radius: 5px; margin: 20px 0; }
    .footer { text-align: center; margin-top: 30px; color: #7f8c8d; font-size: 14px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>Welcome to Cliperton Pro!</h1>
    </div>
    <div class="content">
      <p>Hello {{.Name}},</p>
      <p>Thank you for purchasing Cliperton Pro! Your license key is ready:</p>
      <div class="license-key">{{.LicenseKey}}</div>
      <div class="instructions">
        <h3>How to activate your license:</h3>
        <ol>
          <li>Download and install Cliperton (if you haven't already)</li>
          <li>Open Cliperton</li>
          <li>Click the 'Save Group' or 'Load Group' button</li>
          <li>When prompted, enter your license key: <strong>{{.LicenseKey}}</strong></li>
          <li>Enjoy unlimited clipboard history and save/load features!</li>
        </ol>
      </div>
      <p><strong>What you've unlocked:</strong></p>
      <ul>
        <li>Save clipboard groups to files</li>
        <li>Load saved clipboard groups</li>
        <li>Import/Export collections</li>
        <li>Unlimited clipboard history</li>
        <li>Lifetime updates</li>
        <li>Priority support</li>
      </ul>
      <p>Need help? Reply to this email or visit our support page.</p>
      <div class="footer">
        <p>Order ID: {{.OrderID}}</p>
        <p>This license key is valid for one computer. Keep it safe!</p>
      </div>
    </div>
  </div>
</body>
</html>
`))
