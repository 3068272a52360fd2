package outbox

import (
	"time"
	"unicode/utf8"

	"github.com/hitoshi/hopehub/internal/mail"
)

// Outcome は1回の送信試行の結果の分類。
type Outcome int

const (
	// OutcomeSent は送信成功。
	OutcomeSent Outcome = iota
	// OutcomeRetry はバックオフ後に再送する失敗。
	OutcomeRetry
	// OutcomeFailed は再送を断念する失敗。
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// initialBackoff は指数バックオフの初回遅延（1分）。
	initialBackoff = time.Minute
	// maxBackoff は指数バックオフの最大遅延（6時間）。
	maxBackoff = 6 * time.Hour
	// MaxAttempts は送信を断念するまでの試行回数。
	MaxAttempts = 8
	// maxErrorLength はlast_errorに保存するエラーメッセージの最大文字数。
	maxErrorLength = 1000
)

// Classify は送信結果と、今回を含めた試行回数から次の扱いを決める。
// 再送不可のエラーか、試行回数が上限に達した場合はOutcomeFailedを返す。
func Classify(err error, attempts int) Outcome {
	switch {
	case err == nil:
		return OutcomeSent
	case mail.IsPermanent(err):
		return OutcomeFailed
	case attempts >= MaxAttempts:
		return OutcomeFailed
	default:
		return OutcomeRetry
	}
}

// CalculateBackoff は失敗回数に基づいて次回送信までの遅延を計算する。
// 1回目の失敗で1分、以降2倍ずつ増加し、最大6時間。
func CalculateBackoff(attempts int) time.Duration {
	delay := initialBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// truncateError はエラーメッセージを保存用に切り詰める。
func truncateError(err error) string {
	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLength {
		return msg
	}
	return string([]rune(msg)[:maxErrorLength])
}
