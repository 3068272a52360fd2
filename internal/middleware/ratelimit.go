package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/hopehub/internal/metrics"
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitPolicy はレート制限の単位（名前、上限回数、期間）を表す。
type RateLimitPolicy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	General RateLimitPolicy // API全般
	Forms   RateLimitPolicy // フォーム送信
	Login   RateLimitPolicy // ログイン・ユーザー登録
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min、フォーム送信 5 req/min、ログイン 10 req/min（いずれもクライアントごと）。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		General: RateLimitPolicy{Name: "general", Limit: 120, Window: time.Minute},
		Forms:   RateLimitPolicy{Name: "forms", Limit: 5, Window: time.Minute},
		Login:   RateLimitPolicy{Name: "login", Limit: 10, Window: time.Minute},
	}
}

// RateLimitStore はクライアント識別子ごとの試行回数を数えるストア。
// allowedがfalseの場合、retryAfterは次に許可されるまでの目安時間。
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimiter はストアを使ってポリシーごとのレート制限ミドルウェアを提供する。
type RateLimiter struct {
	store   RateLimitStore
	metrics metrics.MetricsCollector
}

// NewRateLimiter は新しいRateLimiterを生成する。
func NewRateLimiter(store RateLimitStore, collector metrics.MetricsCollector) *RateLimiter {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &RateLimiter{store: store, metrics: collector}
}

// Middleware は指定ポリシーのレート制限ミドルウェアを返す。
// 認証済みリクエストはユーザーID、それ以外はクライアントIPごとに数える。
// ストアのエラー時はリクエストを通す（fail open）。
func (rl *RateLimiter) Middleware(policy RateLimitPolicy) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			key := policy.Name + ":" + client

			allowed, retryAfter, err := rl.store.Allow(r.Context(), key, policy.Limit, policy.Window)
			if err != nil {
				slog.Error("rate limit store unavailable",
					slog.String("policy", policy.Name),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				rl.metrics.RecordRateLimited(policy.Name)
				slog.Warn("rate limit exceeded",
					slog.String("client", client),
					slog.String("limit_type", policy.Name),
				)
				writeRateLimitResponse(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey はレート制限のキーとなるクライアント識別子を返す。
func clientKey(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには次に許可されるまでの秒数（切り上げ、最低1秒）を設定する。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}

// --- MemoryStore ---

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryStore はプロセス内のトークンバケットによるRateLimitStore実装。
// 単一インスタンス構成で使用する。
type MemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore は新しいMemoryStoreを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		limiters: make(map[string]*keyLimiter),
		interval: cleanupInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Allow はキーのトークンバケットから1トークンを消費できるかを返す。
// バケットはwindowあたりlimit個の速度で補充され、最大limit個まで溜まる。
func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if limit <= 0 || window <= 0 {
		return false, 0, fmt.Errorf("invalid rate limit policy: limit=%d window=%s", limit, window)
	}
	every := rate.Limit(float64(limit) / window.Seconds())

	s.mu.Lock()
	kl, exists := s.limiters[key]
	if !exists {
		kl = &keyLimiter{limiter: rate.NewLimiter(every, limit)}
		s.limiters[key] = kl
	}
	now := s.now()
	kl.lastAccess = now
	s.mu.Unlock()

	if kl.limiter.AllowN(now, 1) {
		return true, 0, nil
	}

	// 1トークンが補充されるまでの時間
	retryAfter := time.Duration(float64(time.Second) / float64(every))
	return false, retryAfter, nil
}

// Len は現在管理されているエントリ数を返す。テスト用。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がクリーンアップ間隔の2倍を超えたエントリを削除する。
func (s *MemoryStore) cleanup() {
	ttl := s.interval * 2
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

// --- RedisStore ---

// RedisStore はRedisの固定ウィンドウによるRateLimitStore実装。
// 複数インスタンスでカウンタを共有する場合に使用する。
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore は新しいRedisStoreを生成する。
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, prefix: "hopehub:ratelimit:"}
}

// fixedWindowScript はカウンタの加算と有効期限の設定を1回の呼び出しで行う。
// 有効期限の無いカウンタは加算時に必ず期限が付く。戻り値は {回数, 残りミリ秒}。
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Allow はキーのカウンタを加算し、ウィンドウ内の回数がlimit以下かを返す。
func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if count <= int64(limit) {
		return true, 0, nil
	}
	if ttl <= 0 {
		ttl = window
	}
	return false, ttl, nil
}
