// Package outbox は送信待ちメール（email_outbox）を配信するワーカーを提供する。
// ディスパッチャ、リトライ/バックオフ戦略を含む。
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/hopehub/internal/mail"
	"github.com/hitoshi/hopehub/internal/metrics"
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/hitoshi/hopehub/internal/repository"
)

// Config はディスパッチャの設定。0以下の値は既定値に置き換える。
type Config struct {
	// BatchSize は1サイクルで取得する最大件数。
	BatchSize int
	// MaxConcurrency は同時に送信する最大件数。
	MaxConcurrency int
	// Lease は取得した行を他のワーカーから隠しておく時間。
	Lease time.Duration
	// SendTimeout は1通あたりの送信タイムアウト。
	SendTimeout time.Duration
}

const (
	defaultBatchSize      = 50
	defaultMaxConcurrency = 5
	defaultLease          = 5 * time.Minute
	defaultSendTimeout    = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.Lease <= 0 {
		c.Lease = defaultLease
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// Dispatcher は送信予定時刻を過ぎたメールを取得して送信する。
// ティッカーで定期的に実行し、semaphoreパターンで同時送信数を制御する。
type Dispatcher struct {
	repo    repository.OutboxRepository
	mailer  mail.Mailer
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	cfg     Config
	now     func() time.Time
}

// Option はDispatcherの生成オプション。
type Option func(*Dispatcher)

// WithMetrics は送信結果を記録するメトリクスコレクタを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(repo repository.OutboxRepository, mailer mail.Mailer, logger *slog.Logger, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:    repo,
		mailer:  mailer,
		logger:  logger,
		metrics: metrics.Nop{},
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start はinterval間隔でディスパッチャを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("メール配信ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", d.cfg.MaxConcurrency),
		slog.Int("batch_size", d.cfg.BatchSize),
	)

	// 起動直後に1回実行
	d.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("メール配信ワーカーを停止しました")
			return
		case <-ticker.C:
			d.runLogged(ctx)
		}
	}
}

func (d *Dispatcher) runLogged(ctx context.Context) {
	if err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("メール配信サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は送信対象のメールを1回取得し、並列で送信する。
// すべての送信結果を記録してから戻る。
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	start := time.Now()

	msgs, err := d.repo.ClaimDue(ctx, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		d.logger.Debug("送信対象のメールはありません")
		return nil
	}

	d.logger.Info("メール配信サイクルを開始します",
		slog.Int("message_count", len(msgs)),
	)

	sem := make(chan struct{}, d.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for _, msg := range msgs {
		wg.Add(1)
		sem <- struct{}{}

		go func(m *model.OutboxMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, m)
		}(msg)
	}

	wg.Wait()

	d.logger.Info("メール配信サイクルが完了しました",
		slog.Int("message_count", len(msgs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// deliver は1通を送信し、結果をoutboxに記録する。
// 送信中にコンテキストがキャンセルされた場合は記録せず、リース切れ後の再取得に任せる。
func (d *Dispatcher) deliver(ctx context.Context, m *model.OutboxMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err := d.mailer.Send(sendCtx, mail.Message{
		To:      m.To,
		Subject: m.Subject,
		HTML:    m.HTMLBody,
		Text:    m.TextBody,
	})
	cancel()

	if err != nil && ctx.Err() != nil {
		return
	}

	attempts := m.Attempts + 1
	now := d.now()

	switch Classify(err, attempts) {
	case OutcomeSent:
		if err := d.repo.MarkSent(ctx, m.ID, now); err != nil {
			d.logger.Error("送信済みの記録に失敗しました",
				slog.String("message_id", m.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		d.metrics.RecordMailSent()

	case OutcomeRetry:
		next := now.Add(CalculateBackoff(attempts))
		if err := d.repo.MarkRetry(ctx, m.ID, attempts, next, truncateError(err)); err != nil {
			d.logger.Error("再送予定の記録に失敗しました",
				slog.String("message_id", m.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		d.metrics.RecordMailFailure(OutcomeRetry.String())
		d.logger.Warn("メール送信に失敗しました。再送します",
			slog.String("message_id", m.ID),
			slog.Int("attempts", attempts),
			slog.Time("next_attempt_at", next),
			slog.String("error", err.Error()),
		)

	case OutcomeFailed:
		if err := d.repo.MarkFailed(ctx, m.ID, attempts, truncateError(err)); err != nil {
			d.logger.Error("送信失敗の記録に失敗しました",
				slog.String("message_id", m.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		d.metrics.RecordMailFailure(OutcomeFailed.String())
		d.logger.Error("メール送信を断念しました",
			slog.String("message_id", m.ID),
			slog.Int("attempts", attempts),
			slog.Bool("permanent", mail.IsPermanent(err)),
			slog.String("error", err.Error()),
		)
	}
}
