// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/hopehub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// Update は投稿の内容フィールドを更新する。status、published_atは変更しない。
	// 対象が存在しない場合はmodel.ErrPostNotFoundを返す。
	Update(ctx context.Context, post *model.Post) error

	// UpdateStatus はstatusとpublished_atを1つのUPDATE文で同時に更新する。
	// 対象が存在しない場合はmodel.ErrPostNotFoundを返す。
	UpdateStatus(ctx context.Context, id string, status model.PostStatus, publishedAt *time.Time, updatedAt time.Time) error

	// List はフィルタ条件に一致する投稿を取得する。
	// 公開済みのみの場合はpublished_at降順、それ以外はcreated_at降順で、
	// カーソルより古いものをlimit件返す。
	List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error)
}

// SubmissionRepository はフォーム送信データの永続化インターフェース。
// 各送信は送信待ちメールと同一トランザクションで保存される。
type SubmissionRepository interface {
	CreateContact(ctx context.Context, msg *model.ContactMessage, outbox []*model.OutboxMessage) error
	CreateDonation(ctx context.Context, pledge *model.DonationPledge, outbox []*model.OutboxMessage) error
	CreateVolunteer(ctx context.Context, app *model.VolunteerApplication, outbox []*model.OutboxMessage) error
	CreatePartnership(ctx context.Context, inquiry *model.PartnershipInquiry, outbox []*model.OutboxMessage) error

	// UpsertNewsletter はメールアドレス単位で購読を冪等に登録する。
	// 新規登録の場合のみoutboxを保存し、createdにtrueを返す。
	UpsertNewsletter(ctx context.Context, sub *model.NewsletterSubscription, outbox []*model.OutboxMessage) (created bool, err error)
}

// OutboxRepository は送信待ちメールの永続化インターフェース。
type OutboxRepository interface {
	// ClaimDue は送信予定時刻を過ぎたPENDINGのメールをlimit件取得する。
	// FOR UPDATE SKIP LOCKEDで取得し、next_attempt_atを先送りして他ワーカーとの重複を防ぐ。
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxMessage, error)

	// MarkSent は送信成功を記録する。
	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkRetry は送信失敗を記録し、次回送信時刻を設定する。
	MarkRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error

	// MarkFailed はリトライ上限に達したメールをFAILEDにする。
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
