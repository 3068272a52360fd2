package submission

import (
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/shopspring/decimal"
)

// ContactInput はお問い合わせフォームの入力。
type ContactInput struct {
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email" validate:"required,email,max=255"`
	Subject string `json:"subject" validate:"omitempty,max=255"`
	Message string `json:"message" validate:"required,max=5000"`
}

// DonationInput は寄付申込フォームの入力。
// Currencyが空の場合はUSD、Frequencyが空の場合はONE_TIMEとして扱う。
type DonationInput struct {
	Name      string                  `json:"name" validate:"required,max=255"`
	Email     string                  `json:"email" validate:"required,email,max=255"`
	Amount    decimal.Decimal         `json:"amount" validate:"amount"`
	Currency  string                  `json:"currency" validate:"required,iso4217"`
	Frequency model.DonationFrequency `json:"frequency" validate:"required,oneof=ONE_TIME MONTHLY"`
	Message   string                  `json:"message" validate:"omitempty,max=2000"`
}

// VolunteerInput はボランティア応募フォームの入力。
type VolunteerInput struct {
	Name         string   `json:"name" validate:"required,max=255"`
	Email        string   `json:"email" validate:"required,email,max=255"`
	Phone        string   `json:"phone" validate:"omitempty,max=32"`
	Interests    []string `json:"interests" validate:"required,min=1,max=10,dive,required,max=100"`
	Availability string   `json:"availability" validate:"omitempty,max=255"`
	Message      string   `json:"message" validate:"omitempty,max=2000"`
}

// PartnershipInput は連携の問い合わせフォームの入力。
type PartnershipInput struct {
	Organization string `json:"organization" validate:"required,max=255"`
	ContactName  string `json:"contact_name" validate:"required,max=255"`
	Email        string `json:"email" validate:"required,email,max=255"`
	Website      string `json:"website" validate:"omitempty,http_url,max=2048"`
	Proposal     string `json:"proposal" validate:"required,max=5000"`
}

// NewsletterInput はニュースレター購読フォームの入力。
type NewsletterInput struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Name  string `json:"name" validate:"omitempty,max=255"`
}
