package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/hopehub/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func newTestService(repo *mockUserRepo) *Service {
	return NewService(repo, NewTokenService(testSecret), ServiceConfig{BcryptCost: bcrypt.MinCost})
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return string(h)
}

// --- Register ---

func TestService_Register_CreatesUserAndIssuesToken(t *testing.T) {
	var created *model.User
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			created = user
			return nil
		},
	}
	svc := newTestService(repo)

	session, err := svc.Register(context.Background(), "  Alice@Example.org ", "correct-horse", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if created == nil {
		t.Fatal("expected user to be created")
	}
	if created.Email != "alice@example.org" {
		t.Errorf("email = %q, want %q", created.Email, "alice@example.org")
	}
	if created.Role != model.RoleUser {
		t.Errorf("role = %q, want %q", created.Role, model.RoleUser)
	}
	if created.PasswordHash == "correct-horse" || created.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}

	claims, err := NewTokenService(testSecret).Verify(session.Token)
	if err != nil {
		t.Fatalf("issued token should verify: %v", err)
	}
	if claims.ID != created.ID {
		t.Errorf("token id = %q, want %q", claims.ID, created.ID)
	}
}

func TestService_Register_CollectsAllValidationErrors(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			t.Fatal("user must not be created on validation failure")
			return nil
		},
	})

	_, err := svc.Register(context.Background(), "not-an-email", "short", "")

	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"email", "password", "name"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("missing error for field %q", field)
		}
	}
}

func TestService_Register_DuplicateEmail(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "existing", Email: email}, nil
		},
	})

	_, err := svc.Register(context.Background(), "taken@example.org", "long-enough", "Bob")
	if !errors.Is(err, model.ErrEmailTaken) {
		t.Errorf("err = %v, want ErrEmailTaken", err)
	}
}

func TestService_Register_PasswordLengthCountsBytes(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "72 bytes", password: strings.Repeat("p", MaxPasswordBytes), wantErr: false},
		{name: "80 bytes", password: strings.Repeat("p", 80), wantErr: true},
		// 3バイト文字30個は30文字だが90バイト
		{name: "multibyte over limit", password: strings.Repeat("あ", 30), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := false
			svc := newTestService(&mockUserRepo{
				createFn: func(ctx context.Context, user *model.User) error {
					created = true
					return nil
				},
			})

			_, err := svc.Register(context.Background(), "a@x.com", tt.password, "Alice")

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !created {
					t.Error("user should be created")
				}
				return
			}
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields["password"]; !ok {
				t.Errorf("missing error for field password: %v", verr.Fields)
			}
			if created {
				t.Error("user must not be created")
			}
		})
	}
}

func TestService_Register_RejectsMalformedEmail(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			t.Fatalf("repository must not be queried for %q", email)
			return nil, nil
		},
	})

	for _, email := range []string{"@", "a@", "@example.org"} {
		_, err := svc.Register(context.Background(), email, "long-enough", "Alice")
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Register(%q): expected ValidationError, got %v", email, err)
			continue
		}
		if _, ok := verr.Fields["email"]; !ok {
			t.Errorf("Register(%q): missing error for field email", email)
		}
	}
}

// --- Login ---

func TestService_Login_Success(t *testing.T) {
	user := &model.User{
		ID:           "admin-1",
		Email:        "admin@example.org",
		PasswordHash: hashPassword(t, "s3cret-pass"),
		Role:         model.RoleAdmin,
	}
	svc := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email == "admin@example.org" {
				return user, nil
			}
			return nil, nil
		},
	})

	session, err := svc.Login(context.Background(), "ADMIN@example.org", "s3cret-pass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := NewTokenService(testSecret).Verify(session.Token)
	if err != nil {
		t.Fatalf("token should verify: %v", err)
	}
	if claims.Role != model.RoleAdmin {
		t.Errorf("role = %q, want ADMIN", claims.Role)
	}
}

func TestService_Login_WrongPasswordOrUnknownUser(t *testing.T) {
	user := &model.User{ID: "u1", Email: "a@x.com", PasswordHash: hashPassword(t, "right-password"), Role: model.RoleUser}
	svc := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email == user.Email {
				return user, nil
			}
			return nil, nil
		},
	})

	if _, err := svc.Login(context.Background(), "a@x.com", "wrong-password"); !errors.Is(err, model.ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@x.com", "right-password"); !errors.Is(err, model.ErrInvalidCredentials) {
		t.Errorf("unknown user: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestService_Login_RepositoryError(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, errors.New("db down")
		},
	})

	_, err := svc.Login(context.Background(), "a@x.com", "whatever")
	if err == nil || errors.Is(err, model.ErrInvalidCredentials) {
		t.Errorf("expected wrapped repository error, got %v", err)
	}
}

func TestService_Login_MalformedInputIsValidationError(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			t.Fatalf("repository must not be queried for %q", email)
			return nil, nil
		},
	})

	tests := []struct {
		name     string
		email    string
		password string
		field    string
	}{
		{name: "bad email", email: "a@", password: "whatever", field: "email"},
		{name: "empty password", email: "a@x.com", password: "", field: "password"},
		{name: "password over bcrypt limit", email: "a@x.com", password: strings.Repeat("p", 73), field: "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.email, tt.password)
			var verr *model.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("missing error for field %q: %v", tt.field, verr.Fields)
			}
		})
	}
}

// --- EnsureAdmin ---

func TestService_EnsureAdmin_CreatesOnlyWhenMissing(t *testing.T) {
	createCount := 0
	var existing *model.User
	repo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return existing, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			createCount++
			if user.Role != model.RoleAdmin {
				t.Errorf("role = %q, want ADMIN", user.Role)
			}
			existing = user
			return nil
		},
	}
	svc := newTestService(repo)

	for i := 0; i < 2; i++ {
		if err := svc.EnsureAdmin(context.Background(), "root@example.org", "bootstrap-pass"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if createCount != 1 {
		t.Errorf("create count = %d, want 1", createCount)
	}
}

func TestService_EnsureAdmin_SkipsWhenNotConfigured(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			t.Fatal("repository must not be queried")
			return nil, nil
		},
	})
	if err := svc.EnsureAdmin(context.Background(), "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_EnsureAdmin_RejectsInvalidBootstrapCredentials(t *testing.T) {
	svc := newTestService(&mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			t.Fatal("admin must not be created from invalid credentials")
			return nil
		},
	})

	err := svc.EnsureAdmin(context.Background(), "root@example.org", strings.Repeat("p", 100))
	if err == nil {
		t.Fatal("expected error for password over bcrypt limit")
	}
	if !strings.Contains(err.Error(), "ADMIN_PASSWORD") {
		t.Errorf("error should name the setting, got %v", err)
	}
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected wrapped ValidationError, got %v", err)
	}
}

// --- GetCurrentUser ---

func TestService_GetCurrentUser_NotFound(t *testing.T) {
	svc := newTestService(&mockUserRepo{})

	_, err := svc.GetCurrentUser(context.Background(), model.Identity{ID: "gone", Email: "g@x.com", Role: model.RoleUser})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
}
