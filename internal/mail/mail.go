// Package mail はトランザクションメールの送信を提供する。
//
// Mailer の実装として、SMTP（gomail）、HTTP API、ログ出力の3種類を持つ。
// フォーム送信時に直接送信はせず、outboxに積まれたメッセージをワーカーが送信する。
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Message は送信するメール1通を表す。
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Validate は送信に必要な項目が揃っているかを検証する。
func (m Message) Validate() error {
	if m.To == "" {
		return errors.New("mail: recipient is required")
	}
	if m.Subject == "" {
		return errors.New("mail: subject is required")
	}
	if m.HTML == "" && m.Text == "" {
		return errors.New("mail: body is required")
	}
	return nil
}

// Mailer はメール送信のインターフェース。
// 再送しても成功しない失敗はPermanentでラップして返す。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// permanentError は再送しても成功しない送信失敗を表す。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はerrを再送不可の失敗としてラップする。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent はerrが再送不可の失敗かどうかを返す。
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Dependencies はドライバごとに必要な外部依存。
type Dependencies struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New は設定されたドライバ名に応じたMailerを返す。
func New(driver string, smtpCfg SMTPConfig, httpCfg HTTPConfig, deps Dependencies) (Mailer, error) {
	switch driver {
	case "smtp":
		return NewSMTPMailer(smtpCfg), nil
	case "http":
		if deps.HTTPClient == nil {
			return nil, errors.New("mail: http driver requires an HTTP client")
		}
		return NewHTTPMailer(httpCfg, deps.HTTPClient), nil
	case "log", "":
		return NewLogMailer(deps.Logger), nil
	default:
		return nil, fmt.Errorf("mail: unknown driver %q", driver)
	}
}
