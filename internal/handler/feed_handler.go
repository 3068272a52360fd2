package handler

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/hopehub/internal/middleware"
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/hitoshi/hopehub/internal/post"
)

// feedItemLimit はRSSに含める投稿数。
const feedItemLimit = 20

// PublishedPostLister はRSS生成に必要な公開済み投稿の一覧取得インターフェース。
type PublishedPostLister interface {
	ListPublished(ctx context.Context, category model.PostCategory, cursor string, limit int) (*post.ListResult, error)
}

// FeedConfig はRSSのチャンネル情報。
type FeedConfig struct {
	SiteName    string
	BaseURL     string
	Description string
}

// FeedHandler は公開済み投稿のRSS 2.0フィードを配信する。
type FeedHandler struct {
	posts  PublishedPostLister
	config FeedConfig
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(posts PublishedPostLister, config FeedConfig) *FeedHandler {
	return &FeedHandler{posts: posts, config: config}
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language,omitempty"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	GUID        rssGUID `xml:"guid"`
	Category    string  `xml:"category"`
	Description string  `xml:"description"`
	PubDate     string  `xml:"pubDate"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// ServeHTTP は最新の公開済み投稿からRSSを生成して返す。
// GET /feed.xml
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := h.posts.ListPublished(r.Context(), "", "", feedItemLimit)
	if err != nil {
		slog.Error("failed to list posts for feed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	doc := h.build(result.Posts)
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		slog.Error("failed to encode feed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (h *FeedHandler) build(posts []*model.Post) rssDocument {
	channel := rssChannel{
		Title:       h.config.SiteName,
		Link:        h.config.BaseURL + "/",
		Description: h.config.Description,
		Language:    "ja",
		Items:       make([]rssItem, 0, len(posts)),
	}
	if channel.Description == "" {
		channel.Description = h.config.SiteName
	}

	for i, p := range posts {
		if p.PublishedAt == nil {
			continue
		}
		if i == 0 {
			channel.LastBuildDate = p.PublishedAt.UTC().Format(time.RFC1123Z)
		}
		link := h.config.BaseURL + "/posts/" + p.ID
		channel.Items = append(channel.Items, rssItem{
			Title:       p.Title,
			Link:        link,
			GUID:        rssGUID{IsPermaLink: true, Value: link},
			Category:    string(p.Category),
			Description: p.Content,
			PubDate:     p.PublishedAt.UTC().Format(time.RFC1123Z),
		})
	}

	return rssDocument{Version: "2.0", Channel: channel}
}
