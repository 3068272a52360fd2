package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hopehub/internal/model"
	"github.com/hitoshi/hopehub/internal/post"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, actor model.Identity, in post.Input) (*model.Post, error)
	CreatePublished(ctx context.Context, actor model.Identity, in post.Input) (*model.Post, error)
	Update(ctx context.Context, actor model.Identity, id string, in post.Input) (*model.Post, error)
	SetStatus(ctx context.Context, actor model.Identity, id string, status model.PostStatus) (*model.Post, error)
	Get(ctx context.Context, actor model.Identity, id string) (*model.Post, error)
	GetPublished(ctx context.Context, id string) (*model.Post, error)
	List(ctx context.Context, actor model.Identity, category model.PostCategory, status model.PostStatus, cursor string, limit int) (*post.ListResult, error)
	ListPublished(ctx context.Context, category model.PostCategory, cursor string, limit int) (*post.ListResult, error)
}

// PostHandler は投稿関連のHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

type postRequest struct {
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Category       string     `json:"category"`
	Status         string     `json:"status"`
	FeaturedImage  string     `json:"featured_image"`
	FileAttachment string     `json:"file_attachment"`
	ApplyURL       string     `json:"apply_url"`
	Location       string     `json:"location"`
	Deadline       *time.Time `json:"deadline"`
}

func (req postRequest) toInput() post.Input {
	return post.Input{
		Title:          req.Title,
		Content:        req.Content,
		Category:       model.PostCategory(req.Category),
		Status:         model.PostStatus(req.Status),
		FeaturedImage:  req.FeaturedImage,
		FileAttachment: req.FileAttachment,
		ApplyURL:       req.ApplyURL,
		Location:       req.Location,
		Deadline:       req.Deadline,
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

type postResponse struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Category       string     `json:"category"`
	Status         string     `json:"status"`
	FeaturedImage  string     `json:"featured_image,omitempty"`
	FileAttachment string     `json:"file_attachment,omitempty"`
	ApplyURL       string     `json:"apply_url,omitempty"`
	Location       string     `json:"location,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	AuthorID       string     `json:"author_id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	PublishedAt    *time.Time `json:"published_at"`
}

type postListResponse struct {
	Posts      []postResponse `json:"posts"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:             p.ID,
		Title:          p.Title,
		Content:        p.Content,
		Category:       string(p.Category),
		Status:         string(p.Status),
		FeaturedImage:  p.FeaturedImage,
		FileAttachment: p.FileAttachment,
		ApplyURL:       p.ApplyURL,
		Location:       p.Location,
		Deadline:       p.Deadline,
		AuthorID:       p.AuthorID,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		PublishedAt:    p.PublishedAt,
	}
}

func toPostListResponse(result *post.ListResult) postListResponse {
	posts := make([]postResponse, 0, len(result.Posts))
	for _, p := range result.Posts {
		posts = append(posts, toPostResponse(p))
	}
	return postListResponse{
		Posts:      posts,
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	}
}

// parseLimit はlimitクエリを解釈する。未指定や不正値は0を返し、サービス側の既定値を使う。
func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// ListPublished は公開済み投稿の一覧を返す。
// GET /api/posts?category=&cursor=&limit=
func (h *PostHandler) ListPublished(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.ListPublished(r.Context(),
		model.PostCategory(q.Get("category")), q.Get("cursor"), parseLimit(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostListResponse(result))
}

// GetPublished は公開済み投稿を1件返す。下書きは存在しないものとして404を返す。
// GET /api/posts/{id}
func (h *PostHandler) GetPublished(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPublished(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(p))
}

// List は管理画面向けに全状態の投稿一覧を返す。
// GET /api/admin/posts?category=&status=&cursor=&limit=
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := h.service.List(r.Context(), identity,
		model.PostCategory(q.Get("category")), model.PostStatus(q.Get("status")),
		q.Get("cursor"), parseLimit(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostListResponse(result))
}

// Get は管理画面向けに投稿を1件返す。
// GET /api/admin/posts/{id}
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	p, err := h.service.Get(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(p))
}

// Create は投稿を作成する。statusを省略した場合は下書きになる。
// POST /api/admin/posts
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.service.Create)
}

// Publish は投稿を作成して即時公開する。
// POST /api/admin/posts/publish
func (h *PostHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.service.CreatePublished)
}

func (h *PostHandler) create(
	w http.ResponseWriter,
	r *http.Request,
	createFn func(context.Context, model.Identity, post.Input) (*model.Post, error),
) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req postRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidRequest(w)
		return
	}

	p, err := createFn(r.Context(), identity, req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(p))
}

// Update は投稿の内容を更新する。公開状態は変更しない。
// PUT /api/admin/posts/{id}
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req postRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidRequest(w)
		return
	}

	p, err := h.service.Update(r.Context(), identity, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(p))
}

// SetStatus は投稿の公開状態を変更する。
// PUT /api/admin/posts/{id}/status
func (h *PostHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidRequest(w)
		return
	}

	p, err := h.service.SetStatus(r.Context(), identity, chi.URLParam(r, "id"), model.PostStatus(req.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(p))
}
