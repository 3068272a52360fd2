package mail

import (
	"context"
	"log/slog"
)

// LogMailer は送信せずにslogへ出力するMailer実装。開発環境用。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send はメッセージの宛先、件名、テキスト本文をログに出力する。
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return Permanent(err)
	}
	m.logger.InfoContext(ctx, "mail delivered to log",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}
