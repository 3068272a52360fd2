package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/hopehub/internal/auth"
	"github.com/hitoshi/hopehub/internal/middleware"
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/hitoshi/hopehub/internal/post"
	"github.com/hitoshi/hopehub/internal/submission"
)

const routerTestSecret = "router-test-secret-0123456789abcdef"

// stubPinger はPingerのモック。
type stubPinger struct {
	err error
}

func (p stubPinger) PingContext(context.Context) error { return p.err }

type routerFixture struct {
	handler http.Handler
	tokens  *auth.TokenService
}

func newRouterFixture(t *testing.T, posts *mockPostService, forms *mockFormService) *routerFixture {
	t.Helper()

	tokens := auth.NewTokenService(routerTestSecret)
	store := middleware.NewMemoryStore(time.Minute)
	t.Cleanup(store.Stop)

	limits := middleware.DefaultRateLimiterConfig()
	limits.Forms.Limit = 2

	handler := NewRouter(&RouterDeps{
		Guard:             middleware.NewGuard(tokens, middleware.DefaultRouteTable()),
		RateLimiter:       middleware.NewRateLimiter(store, nil),
		RateLimits:        limits,
		CSRFConfig:        middleware.CSRFConfig{},
		CORSAllowedOrigin: "http://localhost:3000",
		AuthService:       &mockAuthService{},
		PostService:       posts,
		FormService:       forms,
		Feed:              FeedConfig{SiteName: "HopeHub", BaseURL: "https://hope.example.org"},
		DB:                stubPinger{},
	})
	return &routerFixture{handler: handler, tokens: tokens}
}

func (f *routerFixture) token(t *testing.T, identity model.Identity) string {
	t.Helper()
	token, err := f.tokens.Issue(identity)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func adminListService() *mockPostService {
	return &mockPostService{
		listFn: func(context.Context, model.Identity, model.PostCategory, model.PostStatus, string, int) (*post.ListResult, error) {
			return &post.ListResult{Posts: []*model.Post{}}, nil
		},
		createFn: func(context.Context, model.Identity, post.Input) (*model.Post, error) {
			return samplePost(model.PostStatusDraft), nil
		},
	}
}

func TestRouter_Health(t *testing.T) {
	f := newRouterFixture(t, &mockPostService{}, &mockFormService{})

	w := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}

func TestHealthHandler_DatabaseUnavailable(t *testing.T) {
	h := NewHealthHandler(stubPinger{err: errors.New("connection refused")})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_AdminPosts_AccessControl(t *testing.T) {
	f := newRouterFixture(t, adminListService(), &mockFormService{})

	admin := model.Identity{ID: "admin-1", Email: "admin@example.com", Role: model.RoleAdmin}
	user := model.Identity{ID: "user-1", Email: "user@example.com", Role: model.RoleUser}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "no token", token: "", want: http.StatusUnauthorized},
		{name: "tampered token", token: f.token(t, admin) + "x", want: http.StatusUnauthorized},
		{name: "user role", token: f.token(t, user), want: http.StatusForbidden},
		{name: "admin role", token: f.token(t, admin), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/posts", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := f.do(req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_AdminPosts_BrowserRedirectsToLogin(t *testing.T) {
	f := newRouterFixture(t, adminListService(), &mockFormService{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/posts", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	w := f.do(req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "/login?next=") {
		t.Errorf("Location = %q", loc)
	}
}

func TestRouter_AdminMutation_CSRF(t *testing.T) {
	f := newRouterFixture(t, adminListService(), &mockFormService{})
	admin := model.Identity{ID: "admin-1", Email: "admin@example.com", Role: model.RoleAdmin}
	token := f.token(t, admin)
	body := `{"title":"t","content":"c","category":"NEWS"}`

	t.Run("cookie without csrf token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/posts", strings.NewReader(body))
		req.AddCookie(&http.Cookie{Name: middleware.TokenCookieName, Value: token})
		w := f.do(req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("cookie with matching csrf token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/posts", strings.NewReader(body))
		req.AddCookie(&http.Cookie{Name: middleware.TokenCookieName, Value: token})
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "abc123"})
		req.Header.Set("X-CSRF-Token", "abc123")
		w := f.do(req)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
		}
	})

	t.Run("bearer client is exempt", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/posts", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		w := f.do(req)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
		}
	})
}

func TestRouter_Forms_RateLimited(t *testing.T) {
	forms := &mockFormService{
		newsletterFn: func(context.Context, submission.NewsletterInput) (*model.NewsletterSubscription, bool, error) {
			return &model.NewsletterSubscription{ID: "sub-1"}, true, nil
		},
	}
	f := newRouterFixture(t, &mockPostService{}, forms)

	newRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/forms/newsletter", strings.NewReader(`{"email":"r@example.com"}`))
		req.RemoteAddr = "203.0.113.7:5555"
		return req
	}

	for i := 0; i < 2; i++ {
		if w := f.do(newRequest()); w.Code != http.StatusCreated {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusCreated)
		}
	}

	w := f.do(newRequest())
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRouter_PublicRoutesIgnoreInvalidToken(t *testing.T) {
	posts := &mockPostService{
		listPublishedFn: func(context.Context, model.PostCategory, string, int) (*post.ListResult, error) {
			return &post.ListResult{Posts: []*model.Post{}}, nil
		},
	}
	f := newRouterFixture(t, posts, &mockFormService{})

	for _, path := range []string{"/api/posts", "/feed.xml"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer garbage")
		w := f.do(req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestRouter_Me_RequiresAuthentication(t *testing.T) {
	f := newRouterFixture(t, &mockPostService{}, &mockFormService{})

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
