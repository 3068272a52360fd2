package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"strings"

	"golang.org/x/net/html"
)

//go:embed templates/*.html
var templateFS embed.FS

// テンプレート名。
const (
	TemplateContactAck        = "contact_ack"
	TemplateDonationAck       = "donation_ack"
	TemplateVolunteerAck      = "volunteer_ack"
	TemplatePartnershipAck    = "partnership_ack"
	TemplateNewsletterWelcome = "newsletter_welcome"
	TemplateStaffNotification = "staff_notification"
)

// SiteInfo はすべてのテンプレートから参照するサイト情報。
type SiteInfo struct {
	Name    string
	BaseURL string
}

// Content はテンプレートから生成した件名と本文。
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer はメールテンプレートを描画する。
// 各テンプレートは "subject" と "content" を定義し、共通の "layout" に埋め込まれる。
type Renderer struct {
	site      SiteInfo
	templates map[string]*template.Template
}

// NewRenderer は埋め込みテンプレートをすべて読み込んだRendererを生成する。
func NewRenderer(site SiteInfo) (*Renderer, error) {
	pages, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list mail templates: %w", err)
	}

	r := &Renderer{site: site, templates: make(map[string]*template.Template)}
	for _, page := range pages {
		name := strings.TrimSuffix(strings.TrimPrefix(page, "templates/"), ".html")
		if name == "layout" {
			continue
		}
		tmpl, err := template.New(name).ParseFS(templateFS, "templates/layout.html", page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mail template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render はテンプレートnameをdataで描画する。
// テキスト本文はHTML本文から生成する。
func (r *Renderer) Render(name string, data any) (Content, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return Content{}, fmt.Errorf("mail template not found: %s", name)
	}

	view := struct {
		Site SiteInfo
		Data any
	}{Site: r.site, Data: data}

	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", view); err != nil {
		return Content{}, fmt.Errorf("failed to render subject of %s: %w", name, err)
	}
	if err := tmpl.ExecuteTemplate(&body, "layout", view); err != nil {
		return Content{}, fmt.Errorf("failed to render body of %s: %w", name, err)
	}

	text, err := HTMLToText(body.String())
	if err != nil {
		return Content{}, err
	}
	subjectText, err := HTMLToText(subject.String())
	if err != nil {
		return Content{}, err
	}

	return Content{
		Subject: strings.Join(strings.Fields(subjectText), " "),
		HTML:    body.String(),
		Text:    text,
	}, nil
}

// blockElements は前後で改行するHTML要素。
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true,
	"ul": true, "ol": true, "li": true, "hr": true, "blockquote": true,
}

// HTMLToText はHTMLをプレーンテキストに変換する。
// ブロック要素は改行、リスト項目は "- "、リンクは "テキスト (URL)" で表す。
// 表のセルは空白で区切る。
func HTMLToText(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse mail html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			writeText(&b, n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "head", "style", "script", "title":
				return
			}
			if blockElements[n.Data] {
				b.WriteString("\n")
			}
			if n.Data == "li" {
				b.WriteString("- ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode {
			if n.Data == "a" {
				if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "mailto:") {
					b.WriteString(" (" + href + ")")
				}
			}
			if n.Data == "th" || n.Data == "td" {
				b.WriteString(" ")
			}
			if blockElements[n.Data] {
				b.WriteString("\n")
			}
		}
	}
	walk(doc)

	return normalizeLines(b.String()), nil
}

// writeText は連続する空白を1つにまとめて書き込む。前後の空白は1文字として残す。
func writeText(b *strings.Builder, text string) {
	const spaces = " \t\r\n"
	words := strings.Fields(text)
	if len(words) == 0 {
		if text != "" {
			b.WriteString(" ")
		}
		return
	}
	if strings.TrimLeft(text, spaces) != text {
		b.WriteString(" ")
	}
	b.WriteString(strings.Join(words, " "))
	if strings.TrimRight(text, spaces) != text {
		b.WriteString(" ")
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// normalizeLines は各行の前後の空白を除き、連続する空行を1行にまとめる。
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
