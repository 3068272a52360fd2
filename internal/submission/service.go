// Package submission はサイトの公開フォーム（お問い合わせ、寄付申込、
// ボランティア応募、連携の問い合わせ、ニュースレター購読）を受け付ける。
//
// 入力を検証して保存し、送信者への受付メールとスタッフへの通知メールを
// 同じトランザクションでoutboxに積む。メールの実送信はワーカーが行う。
package submission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/hopehub/internal/mail"
	"github.com/hitoshi/hopehub/internal/metrics"
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/hitoshi/hopehub/internal/repository"
	"github.com/hitoshi/hopehub/internal/security"
	"github.com/hitoshi/hopehub/internal/validation"
)

const (
	// DefaultCurrency は通貨が指定されなかった寄付申込の通貨。
	DefaultCurrency = "USD"
)

// Renderer はメールテンプレートを描画する。
type Renderer interface {
	Render(name string, data any) (mail.Content, error)
}

// StaffNotification はスタッフ通知メールのテンプレートに渡すデータ。
type StaffNotification struct {
	KindLabel string
	ReplyTo   string
	Fields    []NotificationField
}

// NotificationField はスタッフ通知メールに並べる1項目。
type NotificationField struct {
	Label string
	Value string
}

// Service はフォーム送信を受け付けるサービス層。
type Service struct {
	repo       repository.SubmissionRepository
	validator  *validation.Validator
	sanitizer  security.Sanitizer
	renderer   Renderer
	staffEmail string
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics はフォーム送信を記録するメトリクスコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStaffEmail はスタッフ通知メールの宛先を設定する。空の場合は通知しない。
func WithStaffEmail(addr string) Option {
	return func(s *Service) { s.staffEmail = addr }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.SubmissionRepository, renderer Renderer, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		validator: NewValidator(),
		sanitizer: security.NewTextSanitizer(),
		renderer:  renderer,
		metrics:   metrics.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitContact はお問い合わせを受け付ける。
func (s *Service) SubmitContact(ctx context.Context, in ContactInput) (*model.ContactMessage, error) {
	in.Name = s.clean(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Subject = s.clean(in.Subject)
	in.Message = s.clean(in.Message)
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	msg := &model.ContactMessage{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Email:     in.Email,
		Subject:   in.Subject,
		Message:   in.Message,
		CreatedAt: s.now(),
	}

	outbox, err := s.composeOutbox(msg.Email, mail.TemplateContactAck, msg, StaffNotification{
		KindLabel: "お問い合わせ",
		ReplyTo:   msg.Email,
		Fields: []NotificationField{
			{"お名前", msg.Name},
			{"メールアドレス", msg.Email},
			{"件名", msg.Subject},
			{"内容", msg.Message},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateContact(ctx, msg, outbox); err != nil {
		return nil, fmt.Errorf("failed to save contact message: %w", err)
	}
	s.accepted(model.SubmissionContact, msg.ID)
	return msg, nil
}

// SubmitDonation は寄付申込を受け付ける。決済は行わない。
func (s *Service) SubmitDonation(ctx context.Context, in DonationInput) (*model.DonationPledge, error) {
	in.Name = s.clean(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Message = s.clean(in.Message)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	in.Frequency = model.DonationFrequency(strings.ToUpper(strings.TrimSpace(string(in.Frequency))))
	if in.Frequency == "" {
		in.Frequency = model.DonationOneTime
	}
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	pledge := &model.DonationPledge{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Email:     in.Email,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Frequency: in.Frequency,
		Message:   in.Message,
		CreatedAt: s.now(),
	}

	outbox, err := s.composeOutbox(pledge.Email, mail.TemplateDonationAck, pledge, StaffNotification{
		KindLabel: "寄付の申し込み",
		ReplyTo:   pledge.Email,
		Fields: []NotificationField{
			{"お名前", pledge.Name},
			{"メールアドレス", pledge.Email},
			{"金額", pledge.Amount.StringFixed(2) + " " + pledge.Currency},
			{"頻度", string(pledge.Frequency)},
			{"メッセージ", pledge.Message},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateDonation(ctx, pledge, outbox); err != nil {
		return nil, fmt.Errorf("failed to save donation pledge: %w", err)
	}
	s.accepted(model.SubmissionDonation, pledge.ID)
	return pledge, nil
}

// SubmitVolunteer はボランティア応募を受け付ける。
func (s *Service) SubmitVolunteer(ctx context.Context, in VolunteerInput) (*model.VolunteerApplication, error) {
	in.Name = s.clean(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Availability = s.clean(in.Availability)
	in.Message = s.clean(in.Message)
	interests := make([]string, 0, len(in.Interests))
	for _, interest := range in.Interests {
		interests = append(interests, s.clean(interest))
	}
	in.Interests = interests
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	app := &model.VolunteerApplication{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		Interests:    in.Interests,
		Availability: in.Availability,
		Message:      in.Message,
		CreatedAt:    s.now(),
	}

	outbox, err := s.composeOutbox(app.Email, mail.TemplateVolunteerAck, app, StaffNotification{
		KindLabel: "ボランティア応募",
		ReplyTo:   app.Email,
		Fields: []NotificationField{
			{"お名前", app.Name},
			{"メールアドレス", app.Email},
			{"電話番号", app.Phone},
			{"希望分野", strings.Join(app.Interests, ", ")},
			{"参加可能な日時", app.Availability},
			{"メッセージ", app.Message},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateVolunteer(ctx, app, outbox); err != nil {
		return nil, fmt.Errorf("failed to save volunteer application: %w", err)
	}
	s.accepted(model.SubmissionVolunteer, app.ID)
	return app, nil
}

// SubmitPartnership は連携の問い合わせを受け付ける。
func (s *Service) SubmitPartnership(ctx context.Context, in PartnershipInput) (*model.PartnershipInquiry, error) {
	in.Organization = s.clean(in.Organization)
	in.ContactName = s.clean(in.ContactName)
	in.Email = normalizeEmail(in.Email)
	in.Website = strings.TrimSpace(in.Website)
	in.Proposal = s.clean(in.Proposal)
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	inquiry := &model.PartnershipInquiry{
		ID:           uuid.New().String(),
		Organization: in.Organization,
		ContactName:  in.ContactName,
		Email:        in.Email,
		Website:      in.Website,
		Proposal:     in.Proposal,
		CreatedAt:    s.now(),
	}

	outbox, err := s.composeOutbox(inquiry.Email, mail.TemplatePartnershipAck, inquiry, StaffNotification{
		KindLabel: "連携の問い合わせ",
		ReplyTo:   inquiry.Email,
		Fields: []NotificationField{
			{"団体名", inquiry.Organization},
			{"担当者名", inquiry.ContactName},
			{"メールアドレス", inquiry.Email},
			{"Webサイト", inquiry.Website},
			{"提案内容", inquiry.Proposal},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreatePartnership(ctx, inquiry, outbox); err != nil {
		return nil, fmt.Errorf("failed to save partnership inquiry: %w", err)
	}
	s.accepted(model.SubmissionPartnership, inquiry.ID)
	return inquiry, nil
}

// SubscribeNewsletter はニュースレター購読を登録する。
// 登録済みのメールアドレスの場合はcreatedにfalseを返し、歓迎メールは送らない。
func (s *Service) SubscribeNewsletter(ctx context.Context, in NewsletterInput) (sub *model.NewsletterSubscription, created bool, err error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = s.clean(in.Name)
	if err := s.validator.Validate(in); err != nil {
		return nil, false, err
	}

	sub = &model.NewsletterSubscription{
		ID:           uuid.New().String(),
		Email:        in.Email,
		Name:         in.Name,
		SubscribedAt: s.now(),
	}

	welcome, err := s.compose(sub.Email, mail.TemplateNewsletterWelcome, sub)
	if err != nil {
		return nil, false, err
	}

	created, err = s.repo.UpsertNewsletter(ctx, sub, []*model.OutboxMessage{welcome})
	if err != nil {
		return nil, false, fmt.Errorf("failed to save newsletter subscription: %w", err)
	}
	if created {
		s.accepted(model.SubmissionNewsletter, sub.ID)
	} else {
		slog.Info("newsletter subscription already exists", slog.String("kind", string(model.SubmissionNewsletter)))
	}
	return sub, created, nil
}

// composeOutbox は送信者への受付メールと、宛先が設定されていればスタッフ通知メールを生成する。
func (s *Service) composeOutbox(submitter, ackTemplate string, ackData any, notice StaffNotification) ([]*model.OutboxMessage, error) {
	ack, err := s.compose(submitter, ackTemplate, ackData)
	if err != nil {
		return nil, err
	}
	msgs := []*model.OutboxMessage{ack}

	if s.staffEmail == "" {
		return msgs, nil
	}

	filled := notice.Fields[:0:0]
	for _, f := range notice.Fields {
		if f.Value != "" {
			filled = append(filled, f)
		}
	}
	notice.Fields = filled

	staff, err := s.compose(s.staffEmail, mail.TemplateStaffNotification, notice)
	if err != nil {
		return nil, err
	}
	return append(msgs, staff), nil
}

func (s *Service) compose(to, template string, data any) (*model.OutboxMessage, error) {
	content, err := s.renderer.Render(template, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s mail: %w", template, err)
	}
	now := s.now()
	return &model.OutboxMessage{
		ID:            uuid.New().String(),
		To:            to,
		Subject:       content.Subject,
		HTMLBody:      content.HTML,
		TextBody:      content.Text,
		Status:        model.OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

func (s *Service) accepted(kind model.SubmissionKind, id string) {
	s.metrics.RecordFormSubmission(string(kind))
	slog.Info("form submission accepted",
		slog.String("kind", string(kind)),
		slog.String("submission_id", id),
	)
}

// clean は自由記述欄からHTMLを除去する。
func (s *Service) clean(raw string) string {
	return s.sanitizer.Sanitize(raw)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
