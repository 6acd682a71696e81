package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"dealroom-payments/internal/config"
	"dealroom-payments/internal/models"
)

// EmailNotifier sends the payment outcome emails over SMTP: a confirmation
// to the founder, an alert to the team, and a delayed follow-up. Everything
// here is best-effort; the orchestrator calls it off the request path.
type EmailNotifier struct {
	dialer        *gomail.Dialer
	from          string
	teamEmail     string
	followUpDelay time.Duration
	logger        *zap.Logger
}

func NewEmailNotifier(cfg config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	n := &EmailNotifier{
		from:          cfg.From,
		teamEmail:     cfg.TeamEmail,
		followUpDelay: 24 * time.Hour,
		logger:        logger,
	}
	if cfg.Host != "" {
		n.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	} else {
		logger.Warn("smtp not configured, payment emails disabled")
	}
	return n
}

func (n *EmailNotifier) PaymentConfirmed(txn *models.PaymentTransaction) error {
	if n.dialer == nil {
		return nil
	}

	if txn.CustomerEmail != "" {
		subject := "Your Deal Room is unlocked"
		body := fmt.Sprintf(
			"Hi %s,\n\nYour payment of %.2f %s (order %s) was received. Your Deal Room is now active.\n",
			txn.CustomerName, txn.Amount, txn.Currency, txn.OrderReference)
		if err := n.send(txn.CustomerEmail, subject, body); err != nil {
			return fmt.Errorf("confirmation email: %w", err)
		}

		time.AfterFunc(n.followUpDelay, func() {
			body := fmt.Sprintf(
				"Hi %s,\n\nYour Deal Room has been active for a day. Reply to this email if you need anything.\n",
				txn.CustomerName)
			if err := n.send(txn.CustomerEmail, "Getting started with your Deal Room", body); err != nil {
				n.logger.Warn("follow-up email not delivered",
					zap.String("order_reference", txn.OrderReference),
					zap.Error(err))
			}
		})
	}

	if n.teamEmail != "" {
		body := fmt.Sprintf(
			"Payment completed.\n\nOrder: %s\nProvider: %s\nAmount: %.2f %s\nCustomer: %s <%s>\n",
			txn.OrderReference, txn.GatewayProvider, txn.Amount, txn.Currency, txn.CustomerName, txn.CustomerEmail)
		if err := n.send(n.teamEmail, "Deal Room payment completed", body); err != nil {
			return fmt.Errorf("team notification: %w", err)
		}
	}

	return nil
}

func (n *EmailNotifier) PaymentFailed(txn *models.PaymentTransaction, reason string) error {
	if n.dialer == nil || n.teamEmail == "" {
		return nil
	}

	body := fmt.Sprintf(
		"Payment failed.\n\nOrder: %s\nProvider: %s\nAmount: %.2f %s\nReason: %s\n",
		txn.OrderReference, txn.GatewayProvider, txn.Amount, txn.Currency, reason)
	return n.send(n.teamEmail, "Deal Room payment failed", body)
}

func (n *EmailNotifier) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return n.dialer.DialAndSend(m)
}
