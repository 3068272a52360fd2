package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/hopehub/internal/model"
)

// PostgresOutboxRepo はPostgreSQLを使用した送信待ちメールリポジトリ。
type PostgresOutboxRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresOutboxRepo はPostgresOutboxRepoを生成する。
func NewPostgresOutboxRepo(db *sql.DB) *PostgresOutboxRepo {
	return &PostgresOutboxRepo{db: db, now: time.Now}
}

// ClaimDue は送信予定時刻を過ぎたPENDINGのメールを取得する。
// 取得した行のnext_attempt_atをleaseだけ先送りするため、
// ワーカーが送信結果を記録する前に停止しても、lease経過後に再送対象へ戻る。
// 複数ワーカーが同時に実行してもSKIP LOCKEDにより同じ行は取得されない。
func (r *PostgresOutboxRepo) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxMessage, error) {
	now := r.now()

	rows, err := r.db.QueryContext(ctx,
		`UPDATE email_outbox SET next_attempt_at = $2
		 WHERE id IN (
		    SELECT id FROM email_outbox
		    WHERE status = 'PENDING' AND next_attempt_at <= $1
		    ORDER BY next_attempt_at ASC
		    LIMIT $3
		    FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, recipient, subject, html_body, text_body, status, attempts,
		           next_attempt_at, last_error, created_at, sent_at`,
		now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("送信待ちメールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var msgs []*model.OutboxMessage
	for rows.Next() {
		m := &model.OutboxMessage{}
		var status string
		var lastError sql.NullString
		var sentAt sql.NullTime

		if err := rows.Scan(
			&m.ID, &m.To, &m.Subject, &m.HTMLBody, &m.TextBody, &status, &m.Attempts,
			&m.NextAttemptAt, &lastError, &m.CreatedAt, &sentAt,
		); err != nil {
			return nil, fmt.Errorf("送信待ちメール行の読み取りに失敗しました: %w", err)
		}

		m.Status = model.OutboxStatus(status)
		m.LastError = nullStringValue(lastError)
		if sentAt.Valid {
			m.SentAt = &sentAt.Time
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("送信待ちメールの走査に失敗しました: %w", err)
	}

	return msgs, nil
}

// MarkSent は送信成功を記録する。
func (r *PostgresOutboxRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_outbox SET status = 'SENT', sent_at = $2, last_error = NULL WHERE id = $1`,
		id, sentAt,
	)
	if err != nil {
		return fmt.Errorf("送信済みの記録に失敗しました: %w", err)
	}
	return nil
}

// MarkRetry は送信失敗を記録し、次回送信時刻を設定する。
func (r *PostgresOutboxRepo) MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_outbox SET attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1`,
		id, attempts, nextAttemptAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("再送予定の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed はリトライ上限に達したメールをFAILEDにする。
func (r *PostgresOutboxRepo) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE email_outbox SET status = 'FAILED', attempts = $2, last_error = $3 WHERE id = $1`,
		id, attempts, lastError,
	)
	if err != nil {
		return fmt.Errorf("送信失敗の記録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OutboxRepository = (*PostgresOutboxRepo)(nil)
