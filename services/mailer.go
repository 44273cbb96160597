package services

import (
	"crypto/tls"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/zarkopopovski/jane/config"
	"github.com/zarkopopovski/jane/models"
)

// MailSender delivers a composed message.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Mailer struct {
	cfg    config.MailConfig
	sender MailSender
	log    logrus.FieldLogger
}

// NewMailer returns a mailer backed by an SMTP dialer. When SMTP is not
// configured the returned mailer only logs.
func NewMailer(cfg config.MailConfig, log logrus.FieldLogger) *Mailer {
	m := &Mailer{cfg: cfg, log: log}
	if cfg.Enabled() {
		d := gomail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)
		d.TLSConfig = &tls.Config{ServerName: cfg.Server}
		m.sender = d
	}
	return m
}

func NewMailerWithSender(cfg config.MailConfig, sender MailSender, log logrus.FieldLogger) *Mailer {
	return &Mailer{cfg: cfg, sender: sender, log: log}
}

func (m *Mailer) welcomeMessage(user *models.User, publicURL string) *gomail.Message {
	msg := gomail.NewMessage()

	msg.SetHeader("From", m.cfg.Contact)
	msg.SetHeader("To", user.Email)
	msg.SetHeader("Subject", "Welcome to JANE")

	msg.SetBody("text/html", fmt.Sprintf(`
		<p>Hi %s, thank you for your registration.</p>
		<p>JANE is ready to help with your job search at <a href="%s">%s</a>.</p>
		<p>If you add a phone number to your profile you can also chat with JANE by SMS.</p>
	`, user.Username, publicURL, publicURL))

	return msg
}

// SendWelcome mails the new user. Errors are logged, never returned.
func (m *Mailer) SendWelcome(user *models.User, publicURL string) {
	if m.sender == nil {
		m.log.WithField("user_id", user.Id).Debug("Mail disabled, skipping welcome mail")
		return
	}

	if err := m.sender.DialAndSend(m.welcomeMessage(user, publicURL)); err != nil {
		m.log.WithError(err).WithField("user_id", user.Id).Error("Failed to send welcome mail")
		return
	}
	m.log.WithField("user_id", user.Id).Info("Welcome mail sent")
}
