// Package auth はトークンの発行・検証と、メールアドレスとパスワードによる認証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hitoshi/hopehub/internal/model"
	"github.com/hitoshi/hopehub/internal/repository"
	"github.com/hitoshi/hopehub/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
const MaxPasswordBytes = 72

type registerInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,password_bytes"`
	Name     string `json:"name" validate:"required,max=255"`
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,password_bytes"`
}

func newValidator() *validation.Validator {
	v := validation.New()
	v.MustRegister("password_bytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxPasswordBytes
	}, fmt.Sprintf("パスワードは%dバイト以内で入力してください。", MaxPasswordBytes))
	return v
}

// adminName はブートストラップで作成する管理者の表示名。
const adminName = "Administrator"

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BcryptCost int // 0の場合はbcrypt.DefaultCost
}

// Session はログイン成功時に返すトークンとユーザーの組。
type Session struct {
	Token     string
	User      *model.User
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	tokens    TokenIssuer
	validator *validation.Validator
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, tokens TokenIssuer, config ServiceConfig) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:  userRepo,
		tokens:    tokens,
		validator: newValidator(),
		config:    config,
	}
}

// Register はUSERロールのアカウントを作成し、トークンを発行する。
// 入力の誤りはまとめて*model.ValidationErrorとして返す。
func (s *Service) Register(ctx context.Context, email, password, name string) (*Session, error) {
	in := registerInput{Email: normalizeEmail(email), Password: password, Name: strings.TrimSpace(name)}
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	user, err := s.createUser(ctx, in.Email, in.Password, in.Name, model.RoleUser)
	if err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)

	return s.issueSession(user)
}

// Login はメールアドレスとパスワードを検証し、トークンを発行する。
// ユーザーが存在しない場合とパスワード不一致の場合は区別せずmodel.ErrInvalidCredentialsを返す。
// 形式の誤った入力はリポジトリを参照せず*model.ValidationErrorとして返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	in := loginInput{Email: normalizeEmail(email), Password: password}
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to compare password: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return s.issueSession(user)
}

// GetCurrentUser は認証済み主体に対応するユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, identity model.Identity) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// EnsureAdmin は指定メールアドレスのADMINアカウントが無ければ作成する。
// 初回起動時の管理者ブートストラップ用。既に存在する場合は何もしない。
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	in := registerInput{Email: email, Password: password, Name: adminName}
	if err := s.validator.Validate(in); err != nil {
		return fmt.Errorf("ADMIN_EMAIL or ADMIN_PASSWORD is invalid: %w", err)
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find admin user: %w", err)
	}
	if existing != nil {
		return nil
	}

	user, err := s.createUser(ctx, email, password, adminName, model.RoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	slog.Info("admin user created", slog.String("user_id", user.ID))
	return nil
}

func (s *Service) createUser(ctx context.Context, email, password, name string, role model.Role) (*model.User, error) {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *Service) issueSession(user *model.User) (*Session, error) {
	token, err := s.tokens.Issue(model.Identity{ID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &Session{
		Token:     token,
		User:      user,
		ExpiresAt: time.Now().Add(TokenTTL),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
