package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPConfig はHTTP APIによるメール送信の設定。
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	From     string
}

// HTTPMailer はメール配信サービスのHTTP APIへJSONをPOSTするMailer実装。
// クライアントにはSSRF防止機能付きのものを渡す。
type HTTPMailer struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPMailer はHTTPMailerを生成する。
func NewHTTPMailer(cfg HTTPConfig, client *http.Client) *HTTPMailer {
	return &HTTPMailer{cfg: cfg, client: client}
}

type httpMailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Send はメッセージをAPIへ送信する。
// 2xxは成功、429と5xxは再送対象、それ以外の4xxは再送不可として扱う。
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return Permanent(err)
	}

	body, err := json.Marshal(httpMailRequest{
		From:    m.cfg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode mail request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to create mail request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call mail API: %w", err)
	}
	defer resp.Body.Close()

	// エラー詳細の記録用に先頭のみ読む
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("mail API returned %d: %s", resp.StatusCode, snippet)
	default:
		return Permanent(fmt.Errorf("mail API returned %d: %s", resp.StatusCode, snippet))
	}
}
