package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/hitoshi/hopehub/internal/auth"
	"github.com/hitoshi/hopehub/internal/metrics"
	"github.com/hitoshi/hopehub/internal/model"
)

const (
	// TokenCookieName は認証トークンを保持するCookieの名前。
	TokenCookieName = "token"

	// 下流のブラウザ向けハンドラーへ伝えるIdentityヘッダー。
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
)

// Access はルートに要求されるアクセス権を表す。
type Access int

const (
	// AccessPublic はトークン検証を行わない。
	AccessPublic Access = iota
	// AccessAuthenticated は有効なトークンを要求する。
	AccessAuthenticated
	// AccessAdmin は有効なトークンとADMINロールを要求する。
	AccessAdmin
)

// requiredRole はアクセス権に対応する必須ロールを返す。ロール不問の場合は空文字。
func (a Access) requiredRole() model.Role {
	if a == AccessAdmin {
		return model.RoleAdmin
	}
	return ""
}

// Route はパスプレフィックスとアクセス権の対応。
type Route struct {
	Prefix string
	Access Access
}

// RouteTable はパスプレフィックスでアクセス権を引く表。
// 複数のプレフィックスが一致した場合は最長のものを採用する。
type RouteTable struct {
	routes   []Route
	fallback Access
}

// NewRouteTable はRouteTableを生成する。どのプレフィックスにも一致しないパスにはfallbackを適用する。
func NewRouteTable(fallback Access, routes ...Route) *RouteTable {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &RouteTable{routes: sorted, fallback: fallback}
}

// DefaultRouteTable はサイト全体のルート表を返す。
// 管理画面と管理APIはADMIN、/api/me は認証済みユーザーを要求し、
// 表に無いページは公開として扱う。
func DefaultRouteTable() *RouteTable {
	return NewRouteTable(AccessPublic,
		Route{Prefix: "/auth", Access: AccessPublic},
		Route{Prefix: "/login", Access: AccessPublic},
		Route{Prefix: "/health", Access: AccessPublic},
		Route{Prefix: "/metrics", Access: AccessPublic},
		Route{Prefix: "/feed.xml", Access: AccessPublic},
		Route{Prefix: "/api/posts", Access: AccessPublic},
		Route{Prefix: "/api/forms", Access: AccessPublic},
		Route{Prefix: "/api/csrf-token", Access: AccessPublic},
		Route{Prefix: "/api/me", Access: AccessAuthenticated},
		Route{Prefix: "/api/admin", Access: AccessAdmin},
		Route{Prefix: "/admin", Access: AccessAdmin},
	)
}

// Match はパスに適用されるアクセス権を返す。
// プレフィックスはパスセグメント単位で比較する（/admin は /administrator に一致しない）。
func (t *RouteTable) Match(path string) Access {
	for _, route := range t.routes {
		if prefixMatches(route.Prefix, path) {
			return route.Access
		}
	}
	return t.fallback
}

func prefixMatches(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}

// TokenVerifier はトークンの検証を行うインターフェース。
// auth.TokenServiceの部分集合として定義する。
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

// Guard はリクエストの認証・認可を行う。
// 状態を変更しないため、並行に呼び出して安全。
type Guard struct {
	verifier  TokenVerifier
	routes    *RouteTable
	metrics   metrics.MetricsCollector
	loginPath string
}

// GuardOption はGuardの設定を変更する。
type GuardOption func(*Guard)

// WithGuardMetrics は認証失敗を記録するメトリクスコレクタを設定する。
func WithGuardMetrics(m metrics.MetricsCollector) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithLoginPath はHTMLクライアントのリダイレクト先を変更する。既定は /login。
func WithLoginPath(path string) GuardOption {
	return func(g *Guard) { g.loginPath = path }
}

// NewGuard はGuardを生成する。
func NewGuard(verifier TokenVerifier, routes *RouteTable, opts ...GuardOption) *Guard {
	g := &Guard{
		verifier:  verifier,
		routes:    routes,
		metrics:   metrics.Nop{},
		loginPath: "/login",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize はリクエストからトークンを取り出して検証し、Identityを返す。
// requiredRoleが空でない場合はトークンのロールと一致することを要求する。
//
//   - トークンなし: model.ErrUnauthorized
//   - 検証失敗: model.ErrUnauthorized（原因のauth.ErrInvalidTokenをラップ）
//   - ロール不一致: model.ErrForbidden
func (g *Guard) Authorize(r *http.Request, requiredRole model.Role) (model.Identity, error) {
	token := extractToken(r)
	if token == "" {
		return model.Identity{}, model.ErrUnauthorized
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %w", model.ErrUnauthorized, err)
	}

	identity := claims.Identity()
	if requiredRole != "" && identity.Role != requiredRole {
		return identity, model.ErrForbidden
	}
	return identity, nil
}

// Middleware はルート表に従って認証・認可を行うミドルウェアを返す。
// 公開ルートではトークンを一切参照しない。
// 認証に成功した場合はIdentityをコンテキストに注入し、API以外のルートでは
// X-User-* ヘッダーも付与する。
func (g *Guard) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// クライアントが送ったIdentityヘッダーは信用しない
			r.Header.Del(HeaderUserID)
			r.Header.Del(HeaderUserEmail)
			r.Header.Del(HeaderUserRole)

			access := g.routes.Match(r.URL.Path)
			if access == AccessPublic {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := g.Authorize(r, access.requiredRole())
			if err != nil {
				g.reject(w, r, err)
				return
			}

			if !strings.HasPrefix(r.URL.Path, "/api/") {
				r.Header.Set(HeaderUserID, identity.ID)
				r.Header.Set(HeaderUserEmail, identity.Email)
				r.Header.Set(HeaderUserRole, string(identity.Role))
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// reject は認証・認可の失敗をクライアントの種類に応じて返す。
// HTMLを受け付けるクライアントはログイン画面へ303でリダイレクトし、
// それ以外には統一エラーフォーマットのJSONを返す。
func (g *Guard) reject(w http.ResponseWriter, r *http.Request, err error) {
	reason := failureReason(err)
	g.metrics.RecordAuthFailure(reason)
	slog.Warn("access denied",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("reason", reason),
	)

	if acceptsHTML(r) {
		target := g.loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	if errors.Is(err, model.ErrForbidden) {
		WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return
	}
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid_token"
	default:
		return "missing_token"
	}
}

// extractToken はCookie、Authorizationヘッダーの順にトークンを探す。両方ある場合はCookieを優先する。
func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
