// Package token は署名付き・有効期限付きのアクセストークン（HS256 JWT）の発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrSignatureInvalid は署名が検証鍵と一致しない場合に返される。
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrExpired は現在時刻が有効期限以降の場合に返される。
	ErrExpired = errors.New("token expired")
	// ErrMalformed はトークンの構造を解析できない場合に返される。
	ErrMalformed = errors.New("token malformed")
	// ErrEmptySecret は署名鍵が空の場合に返される。
	ErrEmptySecret = errors.New("signing secret must not be empty")
)

// MaxLifetimeHours はtime.Durationで表現できる有効期間の上限（時間）。
const MaxLifetimeHours = int(math.MaxInt64 / int64(time.Hour))

// ValidateLifetime は有効期間が1以上MaxLifetimeHours以下であることを検証する。
func ValidateLifetime(lifetimeHours int) error {
	if lifetimeHours <= 0 {
		return fmt.Errorf("token lifetime must be positive: %d", lifetimeHours)
	}
	if lifetimeHours > MaxLifetimeHours {
		return fmt.Errorf("token lifetime must be at most %d hours: %d", MaxLifetimeHours, lifetimeHours)
	}
	return nil
}

// Claims はトークンに格納されるクレーム。
// ペイロードはsub、email、iat、expの4フィールドのみで構成される。
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// SubjectID は主体（ユーザーID）を返す。
func (c *Claims) SubjectID() string {
	return c.Subject
}

// IssuedAtUnix は発行時刻（エポック秒）を返す。
func (c *Claims) IssuedAtUnix() int64 {
	if c.IssuedAt == nil {
		return 0
	}
	return c.IssuedAt.Unix()
}

// ExpiresAtUnix は有効期限（エポック秒）を返す。
func (c *Claims) ExpiresAtUnix() int64 {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Unix()
}

// Issue はsubjectIDとemailに対するトークンをHS256で署名して返す。
// iat=now、exp=now+lifetimeHoursとし、いずれも秒単位に切り捨てる。
func Issue(subjectID, email string, now time.Time, lifetimeHours int, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	if err := ValidateLifetime(lifetimeHours); err != nil {
		return "", err
	}

	issuedAt := now.Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Duration(lifetimeHours) * time.Hour)),
		},
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
// 署名検証は有効期限の検証より先に行われ、署名が不正なトークンは期限内でも信頼しない。
// now >= expの場合はErrExpiredを返す（時刻ずれの猶予はない）。
func Verify(tokenString string, secret []byte, now time.Time) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// classify はjwtライブラリのエラーを3種類のいずれかに分類する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		// 必須クレーム欠落や構造不正は形式不正として扱う
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Codec は起動時に読み込んだ署名鍵と有効期間を保持し、Issue/Verifyを提供する。
type Codec struct {
	secret        []byte
	lifetimeHours int
	now           func() time.Time
}

// NewCodec はCodecを生成する。secretは空にできず、lifetimeHoursは1以上MaxLifetimeHours以下である必要がある。
func NewCodec(secret []byte, lifetimeHours int) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if err := ValidateLifetime(lifetimeHours); err != nil {
		return nil, err
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key, lifetimeHours: lifetimeHours, now: time.Now}, nil
}

// Issue は現在時刻を発行時刻としてトークンを発行する。
func (c *Codec) Issue(subjectID, email string) (string, error) {
	return Issue(subjectID, email, c.now(), c.lifetimeHours, c.secret)
}

// Verify は現在時刻でトークンを検証する。
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	return Verify(tokenString, c.secret, c.now())
}

// Lifetime はトークンの有効期間を返す。
func (c *Codec) Lifetime() time.Duration {
	return time.Duration(c.lifetimeHours) * time.Hour
}
