// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は管理画面から投稿される記事HTMLを、
// TextSanitizer はフォームから送信される自由記述欄をそれぞれサニタイズする。
// いずれもbluemondayの許可リストベースのポリシーを使用する。
package security

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTMLサニタイズ機能のインターフェースを定義する。
type Sanitizer interface {
	// Sanitize は入力を安全な文字列に変換して返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

var httpsOnly = regexp.MustCompile(`^https://`)

// contentSanitizer は記事本文用のSanitizer実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer は記事本文用のSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: h2, h3, h4, p, br, hr, a, ul, ol, li, blockquote, pre, code, strong, em, img, figure, figcaption
//   - 禁止タグ: script, iframe, style および全てのon*イベント属性
//   - imgのsrc属性: httpsスキームのみ許可
//   - aタグ: 外部リンクに target="_blank" と rel="noopener noreferrer" を自動付与
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h2", "h3", "h4",
		"p", "br", "hr", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"figure", "figcaption",
	)

	// サイト内リンク（/about など）は相対URLで書かれることがあるため許可する
	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("https", "http", "mailto")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("alt").OnElements("img")
	p.AllowAttrs("src").Matching(httpsOnly).OnElements("img")

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// textSanitizer はフォームの自由記述欄用のSanitizer実装。
// すべてのタグを除去し、前後の空白を取り除く。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したテキストを返す。
// StrictPolicyはエスケープ済みの実体参照を出力するため、
// 保存前にプレーンテキストへ戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// IsHTTPURL はsが絶対URLでスキームがhttpまたはhttpsかを返す。
func IsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
