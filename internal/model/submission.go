// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmissionKind はフォーム送信の種別を表す。
type SubmissionKind string

const (
	SubmissionContact     SubmissionKind = "contact"
	SubmissionDonation    SubmissionKind = "donation"
	SubmissionVolunteer   SubmissionKind = "volunteer"
	SubmissionPartnership SubmissionKind = "partnership"
	SubmissionNewsletter  SubmissionKind = "newsletter"
)

// ContactMessage はお問い合わせフォームの送信内容を表す。
type ContactMessage struct {
	ID        string
	Name      string
	Email     string
	Subject   string
	Message   string
	CreatedAt time.Time
}

// DonationFrequency は寄付の頻度を表す。
type DonationFrequency string

const (
	DonationOneTime DonationFrequency = "ONE_TIME"
	DonationMonthly DonationFrequency = "MONTHLY"
)

// DonationPledge は寄付申込を表す。決済は外部で行われ、ここでは申込のみを記録する。
type DonationPledge struct {
	ID        string
	Name      string
	Email     string
	Amount    decimal.Decimal
	Currency  string
	Frequency DonationFrequency
	Message   string
	CreatedAt time.Time
}

// VolunteerApplication はボランティア応募を表す。
type VolunteerApplication struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Interests    []string
	Availability string
	Message      string
	CreatedAt    time.Time
}

// PartnershipInquiry は団体・企業からの連携の問い合わせを表す。
type PartnershipInquiry struct {
	ID           string
	Organization string
	ContactName  string
	Email        string
	Website      string
	Proposal     string
	CreatedAt    time.Time
}

// NewsletterSubscription はニュースレター購読を表す。メールアドレスで一意。
type NewsletterSubscription struct {
	ID           string
	Email        string
	Name         string
	SubscribedAt time.Time
}

// OutboxStatus は送信待ちメールの状態を表す。
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxMessage はワーカーが送信する予定のトランザクションメールを表す。
type OutboxMessage struct {
	ID            string
	To            string
	Subject       string
	HTMLBody      string
	TextBody      string
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	SentAt        *time.Time
}
