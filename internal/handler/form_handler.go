package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/hopehub/internal/model"
	"github.com/hitoshi/hopehub/internal/submission"
)

// FormServiceInterface はフォームハンドラーが必要とするサービスインターフェース。
type FormServiceInterface interface {
	SubmitContact(ctx context.Context, in submission.ContactInput) (*model.ContactMessage, error)
	SubmitDonation(ctx context.Context, in submission.DonationInput) (*model.DonationPledge, error)
	SubmitVolunteer(ctx context.Context, in submission.VolunteerInput) (*model.VolunteerApplication, error)
	SubmitPartnership(ctx context.Context, in submission.PartnershipInput) (*model.PartnershipInquiry, error)
	SubscribeNewsletter(ctx context.Context, in submission.NewsletterInput) (*model.NewsletterSubscription, bool, error)
}

// FormHandler は公開フォームのHTTPハンドラー。
type FormHandler struct {
	service FormServiceInterface
}

// NewFormHandler はFormHandlerを生成する。
func NewFormHandler(service FormServiceInterface) *FormHandler {
	return &FormHandler{service: service}
}

type submissionResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// submitForm はボディをinにデコードしてsubmitを呼び出し、受付結果を201で返す。
func submitForm[T any](w http.ResponseWriter, r *http.Request, kind model.SubmissionKind, submit func(context.Context, T) (string, time.Time, error)) {
	var in T
	if err := decodeJSON(r, &in); err != nil {
		writeInvalidRequest(w)
		return
	}

	id, createdAt, err := submit(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submissionResponse{ID: id, Kind: string(kind), CreatedAt: createdAt})
}

// Contact はお問い合わせを受け付ける。
// POST /api/forms/contact
func (h *FormHandler) Contact(w http.ResponseWriter, r *http.Request) {
	submitForm(w, r, model.SubmissionContact, func(ctx context.Context, in submission.ContactInput) (string, time.Time, error) {
		m, err := h.service.SubmitContact(ctx, in)
		if err != nil {
			return "", time.Time{}, err
		}
		return m.ID, m.CreatedAt, nil
	})
}

// Donation は寄付申込を受け付ける。
// POST /api/forms/donation
func (h *FormHandler) Donation(w http.ResponseWriter, r *http.Request) {
	submitForm(w, r, model.SubmissionDonation, func(ctx context.Context, in submission.DonationInput) (string, time.Time, error) {
		d, err := h.service.SubmitDonation(ctx, in)
		if err != nil {
			return "", time.Time{}, err
		}
		return d.ID, d.CreatedAt, nil
	})
}

// Volunteer はボランティア応募を受け付ける。
// POST /api/forms/volunteer
func (h *FormHandler) Volunteer(w http.ResponseWriter, r *http.Request) {
	submitForm(w, r, model.SubmissionVolunteer, func(ctx context.Context, in submission.VolunteerInput) (string, time.Time, error) {
		v, err := h.service.SubmitVolunteer(ctx, in)
		if err != nil {
			return "", time.Time{}, err
		}
		return v.ID, v.CreatedAt, nil
	})
}

// Partnership は連携の問い合わせを受け付ける。
// POST /api/forms/partnership
func (h *FormHandler) Partnership(w http.ResponseWriter, r *http.Request) {
	submitForm(w, r, model.SubmissionPartnership, func(ctx context.Context, in submission.PartnershipInput) (string, time.Time, error) {
		p, err := h.service.SubmitPartnership(ctx, in)
		if err != nil {
			return "", time.Time{}, err
		}
		return p.ID, p.CreatedAt, nil
	})
}

// Newsletter はニュースレター購読を受け付ける。
// 新規登録は201、登録済みのメールアドレスは重複させずに200を返す。
// POST /api/forms/newsletter
func (h *FormHandler) Newsletter(w http.ResponseWriter, r *http.Request) {
	var in submission.NewsletterInput
	if err := decodeJSON(r, &in); err != nil {
		writeInvalidRequest(w)
		return
	}

	sub, created, err := h.service.SubscribeNewsletter(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, submissionResponse{
		ID:        sub.ID,
		Kind:      string(model.SubmissionNewsletter),
		CreatedAt: sub.SubscribedAt,
	})
}
