package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/hopehub/internal/model"
)

// TokenTTL はトークンの有効期間。発行時刻からの固定値で、更新はしない。
const TokenTTL = 24 * time.Hour

// signingMethod は署名・検証に使用する唯一のアルゴリズム。
var signingMethod = jwt.SigningMethodHS256

var (
	// ErrMissingSecret は署名鍵が設定されていない場合のエラー。
	ErrMissingSecret = errors.New("token signing secret is not configured")
	// ErrInvalidToken は不正な形式、署名不一致、期限切れのトークンを表す。
	// 詳細な原因はラップされる。
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidIdentity は発行対象のID、メールアドレス、ロールが不足している場合のエラー。
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Claims はトークンのペイロード。フィールドは {id, email, role, iat, exp} に固定する。
type Claims struct {
	ID        string           `json:"id"`
	Email     string           `json:"email"`
	Role      model.Role       `json:"role"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

// jwt.Claims の実装。未使用の登録済みクレームは常に空を返す。
func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) { return c.IssuedAt, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuer() (string, error) { return "", nil }
func (c *Claims) GetSubject() (string, error) { return c.ID, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error) { return nil, nil }

// Identity は検証済みクレームからリクエスト主体を復元する。
func (c *Claims) Identity() model.Identity {
	return model.Identity{ID: c.ID, Email: c.Email, Role: c.Role}
}

// complete は必須フィールドがすべて揃っているかを返す。
func (c *Claims) complete() bool {
	return c.ID != "" && c.Email != "" && c.Role.IsValid() &&
		c.IssuedAt != nil && c.ExpiresAt != nil
}

// TokenIssuer はトークンの発行と検証を行うインターフェース。
type TokenIssuer interface {
	Issue(identity model.Identity) (string, error)
	Verify(tokenString string) (*Claims, error)
}

// TokenService は共有シークレットによるHS256トークンの発行・検証を行う。
// 状態を持たず、並行に呼び出して安全。
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// TokenOption はTokenServiceの設定を変更する。
type TokenOption func(*TokenService)

// WithClock は現在時刻の取得関数を差し替える。テストで時間経過を模擬するために使う。
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService はTokenServiceを生成する。
// シークレットが空でも生成はできるが、Issue/VerifyはErrMissingSecretを返す。
func NewTokenService(secret string, opts ...TokenOption) *TokenService {
	s := &TokenService{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue はidentityに対する署名済みトークンを発行する。
// exp は iat + TokenTTL に固定される。
func (s *TokenService) Issue(identity model.Identity) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	if identity.ID == "" || identity.Email == "" || !identity.Role.IsValid() {
		return "", fmt.Errorf("%w: id, email and a valid role are required", ErrInvalidIdentity)
	}

	now := s.now()
	claims := &Claims{
		ID:        identity.ID,
		Email:     identity.Email,
		Role:      identity.Role,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
// HS256以外のアルゴリズムで署名されたトークンは拒否する。
// 有効期限ちょうどの時刻は期限切れとして扱う。
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || !claims.complete() {
		return nil, fmt.Errorf("%w: missing required claims", ErrInvalidToken)
	}

	return claims, nil
}

// Decode は署名を検証せずにペイロードを取り出す。
// 不正な形式や必須フィールドの欠落時はnilを返し、エラーやpanicは発生させない。
// セキュリティ判断には使用しないこと。
func Decode(tokenString string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	if !claims.complete() {
		return nil
	}
	return claims
}

// compile-time interface check
var _ TokenIssuer = (*TokenService)(nil)
