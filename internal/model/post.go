// Package model はドメインモデルを定義する。
package model

import "time"

// PostStatus は投稿の公開状態を表す。
type PostStatus string

const (
	// PostStatusDraft は非公開の下書き状態。
	PostStatusDraft PostStatus = "DRAFT"
	// PostStatusPublished は公開状態。PublishedAtが必ず設定される。
	PostStatusPublished PostStatus = "PUBLISHED"
)

// IsValid は定義済みの状態かどうかを返す。
func (s PostStatus) IsValid() bool {
	return s == PostStatusDraft || s == PostStatusPublished
}

// PostCategory は投稿の種別を表す。
type PostCategory string

const (
	PostCategoryNews   PostCategory = "NEWS"
	PostCategoryBlog   PostCategory = "BLOG"
	PostCategoryEvent  PostCategory = "EVENT"
	PostCategoryStory  PostCategory = "STORY"
	PostCategoryCareer PostCategory = "CAREER"
)

// IsValid は定義済みのカテゴリかどうかを返す。
func (c PostCategory) IsValid() bool {
	switch c {
	case PostCategoryNews, PostCategoryBlog, PostCategoryEvent, PostCategoryStory, PostCategoryCareer:
		return true
	default:
		return false
	}
}

// Post はCMSで管理される公開可能なコンテンツ（ニュース、ブログ、求人など）を表す。
// 不変条件: Status == PostStatusPublished のときに限り PublishedAt != nil。
type Post struct {
	ID             string
	Title          string
	Content        string // サニタイズ済みHTML
	Category       PostCategory
	Status         PostStatus
	FeaturedImage  string
	FileAttachment string

	// 以下はCategory == CAREERの場合のみ意味を持つ
	ApplyURL string
	Location string
	Deadline *time.Time

	AuthorID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt *time.Time
}

// IsPublished は公開状態かどうかを返す。
func (p *Post) IsPublished() bool {
	return p.Status == PostStatusPublished
}

// ApplyStatus は公開状態を遷移させ、PublishedAtを不変条件に合わせて更新する。
// PUBLISHEDへの遷移ではnowを公開日時に設定する（既に公開済みでも更新する）。
// DRAFTへの遷移では公開日時をクリアする。
func (p *Post) ApplyStatus(status PostStatus, now time.Time) {
	p.Status = status
	switch status {
	case PostStatusPublished:
		t := now
		p.PublishedAt = &t
	default:
		p.PublishedAt = nil
	}
	p.UpdatedAt = now
}

// PostFilter は投稿一覧の絞り込み条件を表す。
type PostFilter struct {
	Category PostCategory // 空の場合は全カテゴリ
	Status   PostStatus   // 空の場合は全状態（管理画面用）
	Cursor   time.Time    // ゼロ値の場合は先頭から
	CursorID string       // Cursorと同時刻の投稿を区別するID
	Limit    int
}
