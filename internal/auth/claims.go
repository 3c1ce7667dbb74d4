package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token secret sizes in bytes.
const (
	refreshTokenBytes      = 64
	verificationTokenBytes = 20
)

// Default lifetimes, used when IssuerConfig leaves a TTL at zero.
const (
	DefaultAccessTokenTTL       = 15 * time.Minute
	DefaultRefreshTokenTTL      = 7 * 24 * time.Hour
	DefaultVerificationTokenTTL = 30 * 24 * time.Hour
)

var tokenEncodingOnce sync.Once

// InitTokenEncoding fixes the JWT library's process-wide claim encoding so a
// single audience is serialised as a plain string. It is safe to call more
// than once; NewIssuer calls it before any token is issued.
func InitTokenEncoding() {
	tokenEncodingOnce.Do(func() {
		jwt.MarshalSingleStringAsArray = false
	})
}

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// UserID returns the numeric subject of the token.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject %q", ErrTokenInvalid, c.Subject)
	}
	return id, nil
}

// IssuerConfig is read once by NewIssuer.
type IssuerConfig struct {
	SigningKey           []byte
	Issuer               string
	Audience             string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	VerificationTokenTTL time.Duration
}

// Issuer mints refresh, verification and access tokens. Its configuration
// is immutable after construction.
type Issuer struct {
	key             []byte
	issuer          string
	audience        string
	accessTTL       time.Duration
	refreshTTL      time.Duration
	verificationTTL time.Duration

	now func() time.Time
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	InitTokenEncoding()

	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("issuer: signing key is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("issuer: issuer and audience are required")
	}

	iss := &Issuer{
		key:             append([]byte(nil), cfg.SigningKey...),
		issuer:          cfg.Issuer,
		audience:        cfg.Audience,
		accessTTL:       orDefault(cfg.AccessTokenTTL, DefaultAccessTokenTTL),
		refreshTTL:      orDefault(cfg.RefreshTokenTTL, DefaultRefreshTokenTTL),
		verificationTTL: orDefault(cfg.VerificationTokenTTL, DefaultVerificationTokenTTL),
		now:             time.Now,
	}
	return iss, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// IssueRefreshToken returns a new unrevoked refresh token owned by user.
// The value is 64 random bytes in URL-safe base64.
func (i *Issuer) IssueRefreshToken(user *User) (*Token, error) {
	value, err := randomToken(refreshTokenBytes, base64.URLEncoding)
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}
	return i.newToken(user, value, i.refreshTTL), nil
}

// IssueVerificationToken returns a new single-use verification token.
// The value is 20 random bytes in unpadded URL-safe base64.
func (i *Issuer) IssueVerificationToken(user *User) (*Token, error) {
	value, err := randomToken(verificationTokenBytes, base64.RawURLEncoding)
	if err != nil {
		return nil, fmt.Errorf("generating verification token: %w", err)
	}
	return i.newToken(user, value, i.verificationTTL), nil
}

func (i *Issuer) newToken(user *User, value string, ttl time.Duration) *Token {
	now := i.now().UTC()
	return &Token{
		UserID:    user.ID,
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		User:      user,
	}
}

func randomToken(n int, enc *base64.Encoding) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return enc.EncodeToString(b), nil
}

// IssueAccessToken signs an HS256 access token for user and returns it with
// its expiry.
func (i *Issuer) IssueAccessToken(user *User) (string, time.Time, error) {
	now := i.now().UTC()
	expires := now.Add(i.accessTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email: user.Email,
		Name:  user.Email,
		Role:  user.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expires, nil
}

// ParseAccessToken validates signature, algorithm, issuer, audience and
// lifetime, and returns the claims.
func (i *Issuer) ParseAccessToken(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(_ *jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}

	return claims, nil
}
