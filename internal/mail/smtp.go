package mail

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"

	"gopkg.in/gomail.v2"
)

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// dialSender はgomail.Dialerの部分集合。テストで差し替える。
type dialSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer はgomailでSMTPサーバーへ送信するMailer実装。
type SMTPMailer struct {
	from   string
	dialer dialSender
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Send はテキスト本文とHTMLの代替本文を持つマルチパートメールを送信する。
// SMTPサーバーが5xxで応答した場合は再送不可として扱う。
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return Permanent(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		gm.SetBody("text/plain", msg.Text)
		if msg.HTML != "" {
			gm.AddAlternative("text/html", msg.HTML)
		}
	} else {
		gm.SetBody("text/html", msg.HTML)
	}

	if err := m.dialer.DialAndSend(gm); err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code >= 500 {
			return Permanent(fmt.Errorf("smtp rejected message: %w", err))
		}
		return fmt.Errorf("failed to send mail via smtp: %w", err)
	}
	return nil
}
