// Package post は投稿（ニュース、ブログ、イベント、ストーリー、求人）の
// 作成・編集・公開状態の遷移と、公開済み投稿の閲覧を提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/hopehub/internal/metrics"
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/hitoshi/hopehub/internal/repository"
	"github.com/hitoshi/hopehub/internal/security"
)

const (
	// MaxTitleLength はタイトルの最大文字数。
	MaxTitleLength = 200
	// DefaultPageSize は一覧取得の既定件数。
	DefaultPageSize = 20
	// MaxPageSize は一覧取得の上限件数。
	MaxPageSize = 100
)

// URLValidator は投稿に含まれる外部URLの安全性を検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Input は投稿の作成・編集時の入力。
// Statusは作成時のみ参照され、空の場合は作成経路ごとの既定値が使われる。
type Input struct {
	Title          string
	Content        string
	Category       model.PostCategory
	Status         model.PostStatus
	FeaturedImage  string
	FileAttachment string
	ApplyURL       string
	Location       string
	Deadline       *time.Time
}

// ListResult は一覧取得の結果。
type ListResult struct {
	Posts      []*model.Post
	NextCursor string
	HasMore    bool
}

// Service は投稿のライフサイクルを管理するサービス層。
type Service struct {
	repo      repository.PostRepository
	sanitizer security.Sanitizer
	urls      URLValidator
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics は公開状態変更を記録するメトリクスコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.PostRepository, sanitizer security.Sanitizer, urls URLValidator, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		sanitizer: sanitizer,
		urls:      urls,
		metrics:   metrics.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create は管理画面から投稿を作成する。Statusが空の場合はDRAFTで作成する。
func (s *Service) Create(ctx context.Context, actor model.Identity, in Input) (*model.Post, error) {
	if in.Status == "" {
		in.Status = model.PostStatusDraft
	}
	return s.create(ctx, actor, in)
}

// CreatePublished は即時公開の経路で投稿を作成する。Statusが空の場合はPUBLISHEDで作成する。
func (s *Service) CreatePublished(ctx context.Context, actor model.Identity, in Input) (*model.Post, error) {
	if in.Status == "" {
		in.Status = model.PostStatusPublished
	}
	return s.create(ctx, actor, in)
}

func (s *Service) create(ctx context.Context, actor model.Identity, in Input) (*model.Post, error) {
	if !actor.IsAdmin() {
		return nil, model.ErrForbidden
	}

	in = s.normalize(in)
	verr := s.validate(in)
	if !in.Status.IsValid() {
		verr.Add("status", "statusはDRAFTまたはPUBLISHEDを指定してください。")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Post{
		ID:        uuid.New().String(),
		AuthorID:  actor.ID,
		CreatedAt: now,
	}
	applyInput(p, in)
	p.ApplyStatus(in.Status, now)

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	slog.Info("post created",
		slog.String("post_id", p.ID),
		slog.String("category", string(p.Category)),
		slog.String("status", string(p.Status)),
		slog.String("user_id", actor.ID),
	)
	return p, nil
}

// Update は投稿の内容フィールドを編集する。公開状態と公開日時は変更しない。
// Input.Statusは無視される。
func (s *Service) Update(ctx context.Context, actor model.Identity, id string, in Input) (*model.Post, error) {
	if !actor.IsAdmin() {
		return nil, model.ErrForbidden
	}

	in = s.normalize(in)
	if err := s.validate(in).OrNil(); err != nil {
		return nil, err
	}

	p, err := s.findExisting(ctx, id)
	if err != nil {
		return nil, err
	}

	applyInput(p, in)
	p.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, model.ErrPostNotFound) {
			return nil, model.NewPostNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	slog.Info("post updated", slog.String("post_id", p.ID), slog.String("user_id", actor.ID))
	return p, nil
}

// SetStatus は投稿の公開状態を遷移させる。
// PUBLISHEDへの遷移では公開日時を現在時刻にする（公開済みの投稿でも更新する）。
// DRAFTへの遷移では公開日時をクリアする。
// statusと公開日時は1回の更新で同時に書き込む。
func (s *Service) SetStatus(ctx context.Context, actor model.Identity, id string, status model.PostStatus) (*model.Post, error) {
	if !actor.IsAdmin() {
		return nil, model.ErrForbidden
	}
	if !status.IsValid() {
		verr := model.NewValidationError()
		verr.Add("status", "statusはDRAFTまたはPUBLISHEDを指定してください。")
		return nil, verr
	}

	p, err := s.findExisting(ctx, id)
	if err != nil {
		return nil, err
	}

	p.ApplyStatus(status, s.now())

	if err := s.repo.UpdateStatus(ctx, p.ID, p.Status, p.PublishedAt, p.UpdatedAt); err != nil {
		if errors.Is(err, model.ErrPostNotFound) {
			return nil, model.NewPostNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to update post status: %w", err)
	}

	s.metrics.RecordPostStatusChange(string(status))
	slog.Info("post status changed",
		slog.String("post_id", p.ID),
		slog.String("status", string(p.Status)),
		slog.String("user_id", actor.ID),
	)
	return p, nil
}

// Get は管理画面向けに公開状態を問わず投稿を取得する。
func (s *Service) Get(ctx context.Context, actor model.Identity, id string) (*model.Post, error) {
	if !actor.IsAdmin() {
		return nil, model.ErrForbidden
	}
	return s.findExisting(ctx, id)
}

// GetPublished は公開済みの投稿を取得する。下書きは存在しないものとして扱う。
func (s *Service) GetPublished(ctx context.Context, id string) (*model.Post, error) {
	p, err := s.findExisting(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsPublished() {
		return nil, model.NewPostNotFoundError(id)
	}
	return p, nil
}

// List は管理画面向けに公開状態を問わず投稿を作成日時の降順で返す。
// statusを指定した場合はその状態の投稿のみを返す。
func (s *Service) List(ctx context.Context, actor model.Identity, category model.PostCategory, status model.PostStatus, cursor string, limit int) (*ListResult, error) {
	if !actor.IsAdmin() {
		return nil, model.ErrForbidden
	}
	if status != "" && !status.IsValid() {
		verr := model.NewValidationError()
		verr.Add("status", "statusはDRAFTまたはPUBLISHEDを指定してください。")
		return nil, verr
	}
	return s.list(ctx, category, status, cursor, limit, func(p *model.Post) time.Time {
		if status == model.PostStatusPublished && p.PublishedAt != nil {
			return *p.PublishedAt
		}
		return p.CreatedAt
	})
}

// ListPublished は公開済みの投稿を公開日時の降順で返す。
// カーソルベースページネーションを使用し、limit+1件を取得してHasMoreを判定する。
func (s *Service) ListPublished(ctx context.Context, category model.PostCategory, cursor string, limit int) (*ListResult, error) {
	return s.list(ctx, category, model.PostStatusPublished, cursor, limit, func(p *model.Post) time.Time {
		return *p.PublishedAt
	})
}

func (s *Service) list(
	ctx context.Context,
	category model.PostCategory,
	status model.PostStatus,
	cursorStr string,
	limit int,
	cursorOf func(*model.Post) time.Time,
) (*ListResult, error) {
	if category != "" && !category.IsValid() {
		verr := model.NewValidationError()
		verr.Add("category", "未定義のカテゴリです。")
		return nil, verr
	}

	var cursor time.Time
	var cursorID string
	if cursorStr != "" {
		var err error
		cursor, cursorID, err = decodeCursor(cursorStr)
		if err != nil {
			return nil, model.NewInvalidCursorError(cursorStr)
		}
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	posts, err := s.repo.List(ctx, model.PostFilter{
		Category: category,
		Status:   status,
		Cursor:   cursor,
		CursorID: cursorID,
		Limit:    limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	hasMore := len(posts) > limit
	if hasMore {
		posts = posts[:limit]
	}

	result := &ListResult{Posts: posts, HasMore: hasMore}
	if hasMore && len(posts) > 0 {
		last := posts[len(posts)-1]
		result.NextCursor = encodeCursor(cursorOf(last), last.ID)
	}
	if result.Posts == nil {
		result.Posts = []*model.Post{}
	}
	return result, nil
}

func (s *Service) findExisting(ctx context.Context, id string) (*model.Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewPostNotFoundError(id)
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return p, nil
}

// normalize は前後の空白を除去し、本文をサニタイズする。
func (s *Service) normalize(in Input) Input {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(s.sanitizer.Sanitize(in.Content))
	in.Category = model.PostCategory(strings.ToUpper(strings.TrimSpace(string(in.Category))))
	in.Status = model.PostStatus(strings.ToUpper(strings.TrimSpace(string(in.Status))))
	in.FeaturedImage = strings.TrimSpace(in.FeaturedImage)
	in.FileAttachment = strings.TrimSpace(in.FileAttachment)
	in.ApplyURL = strings.TrimSpace(in.ApplyURL)
	in.Location = strings.TrimSpace(in.Location)
	return in
}

// validate は内容フィールドを検証し、すべての誤りを収集して返す。
func (s *Service) validate(in Input) *model.ValidationError {
	verr := model.NewValidationError()

	switch {
	case in.Title == "":
		verr.Add("title", "タイトルを入力してください。")
	case utf8.RuneCountInString(in.Title) > MaxTitleLength:
		verr.Add("title", fmt.Sprintf("タイトルは%d文字以内で入力してください。", MaxTitleLength))
	}

	if in.Content == "" {
		verr.Add("content", "本文を入力してください。")
	}

	if !in.Category.IsValid() {
		verr.Add("category", "カテゴリはNEWS, BLOG, EVENT, STORY, CAREERのいずれかを指定してください。")
	}

	if in.Category != model.PostCategoryCareer {
		if in.ApplyURL != "" {
			verr.Add("apply_url", "応募先URLは求人（CAREER）の投稿でのみ指定できます。")
		}
		if in.Location != "" {
			verr.Add("location", "勤務地は求人（CAREER）の投稿でのみ指定できます。")
		}
		if in.Deadline != nil {
			verr.Add("deadline", "応募締切は求人（CAREER）の投稿でのみ指定できます。")
		}
	}

	s.validateURL(verr, "featured_image", in.FeaturedImage)
	s.validateURL(verr, "file_attachment", in.FileAttachment)
	s.validateURL(verr, "apply_url", in.ApplyURL)

	return verr
}

func (s *Service) validateURL(verr *model.ValidationError, field, raw string) {
	if raw == "" {
		return
	}
	if !security.IsHTTPURL(raw) {
		verr.Add(field, "http(s)で始まる絶対URLを指定してください。")
		return
	}
	if s.urls != nil {
		if err := s.urls.ValidateURL(raw); err != nil {
			verr.Add(field, "このURLは使用できません。")
		}
	}
}

func applyInput(p *model.Post, in Input) {
	p.Title = in.Title
	p.Content = in.Content
	p.Category = in.Category
	p.FeaturedImage = in.FeaturedImage
	p.FileAttachment = in.FileAttachment
	p.ApplyURL = in.ApplyURL
	p.Location = in.Location
	p.Deadline = in.Deadline
}
