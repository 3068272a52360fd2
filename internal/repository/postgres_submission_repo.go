package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/hopehub/internal/model"
	"github.com/lib/pq"
)

// PostgresSubmissionRepo はPostgreSQLを使用したフォーム送信リポジトリ。
// 送信内容と通知メールは同一トランザクションで保存する。
type PostgresSubmissionRepo struct {
	db TxBeginner
}

// NewPostgresSubmissionRepo はPostgresSubmissionRepoを生成する。
func NewPostgresSubmissionRepo(db TxBeginner) *PostgresSubmissionRepo {
	return &PostgresSubmissionRepo{db: db}
}

// CreateContact はお問い合わせを保存する。
func (r *PostgresSubmissionRepo) CreateContact(ctx context.Context, msg *model.ContactMessage, outbox []*model.OutboxMessage) error {
	return r.withTx(ctx, outbox, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO contact_messages (id, name, email, subject, message, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID, msg.Name, msg.Email, nullString(msg.Subject), msg.Message, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("お問い合わせの保存に失敗しました: %w", err)
		}
		return nil
	})
}

// CreateDonation は寄付申込を保存する。
func (r *PostgresSubmissionRepo) CreateDonation(ctx context.Context, pledge *model.DonationPledge, outbox []*model.OutboxMessage) error {
	return r.withTx(ctx, outbox, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO donation_pledges (id, name, email, amount, currency, frequency, message, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			pledge.ID, pledge.Name, pledge.Email, pledge.Amount, pledge.Currency,
			string(pledge.Frequency), nullString(pledge.Message), pledge.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("寄付申込の保存に失敗しました: %w", err)
		}
		return nil
	})
}

// CreateVolunteer はボランティア応募を保存する。
func (r *PostgresSubmissionRepo) CreateVolunteer(ctx context.Context, app *model.VolunteerApplication, outbox []*model.OutboxMessage) error {
	return r.withTx(ctx, outbox, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO volunteer_applications (id, name, email, phone, interests, availability, message, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			app.ID, app.Name, app.Email, nullString(app.Phone), pq.Array(app.Interests),
			nullString(app.Availability), nullString(app.Message), app.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("ボランティア応募の保存に失敗しました: %w", err)
		}
		return nil
	})
}

// CreatePartnership は連携の問い合わせを保存する。
func (r *PostgresSubmissionRepo) CreatePartnership(ctx context.Context, inquiry *model.PartnershipInquiry, outbox []*model.OutboxMessage) error {
	return r.withTx(ctx, outbox, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO partnership_inquiries (id, organization, contact_name, email, website, proposal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			inquiry.ID, inquiry.Organization, inquiry.ContactName, inquiry.Email,
			nullString(inquiry.Website), inquiry.Proposal, inquiry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("連携の問い合わせの保存に失敗しました: %w", err)
		}
		return nil
	})
}

// UpsertNewsletter はニュースレター購読を登録する。
// 既に同じメールアドレスが登録済みの場合は何もせず、確認メールも保存しない。
func (r *PostgresSubmissionRepo) UpsertNewsletter(ctx context.Context, sub *model.NewsletterSubscription, outbox []*model.OutboxMessage) (bool, error) {
	created := false
	err := r.withTx(ctx, nil, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO newsletter_subscriptions (id, email, name, subscribed_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (email) DO NOTHING`,
			sub.ID, sub.Email, nullString(sub.Name), sub.SubscribedAt,
		)
		if err != nil {
			return fmt.Errorf("ニュースレター購読の保存に失敗しました: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
		}
		if rowsAffected == 0 {
			return nil
		}
		created = true
		return insertOutbox(ctx, tx, outbox)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// withTx はfnと送信待ちメールの保存を1つのトランザクションで実行する。
func (r *PostgresSubmissionRepo) withTx(ctx context.Context, outbox []*model.OutboxMessage, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := insertOutbox(ctx, tx, outbox); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, msgs []*model.OutboxMessage) error {
	for _, m := range msgs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO email_outbox (id, recipient, subject, html_body, text_body, status, attempts, next_attempt_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, m.To, m.Subject, m.HTMLBody, m.TextBody, string(m.Status), m.Attempts, m.NextAttemptAt, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("送信待ちメールの保存に失敗しました: %w", err)
		}
	}
	return nil
}

// compile-time interface check
var _ SubmissionRepository = (*PostgresSubmissionRepo)(nil)
