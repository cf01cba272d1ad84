package jwttoken

import (
	"errors"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "parley/pkg/domain-errors"
)

// DefaultTTL is the lifetime of access tokens when none is configured.
const DefaultTTL = time.Hour

// Decode failures. Every error returned by Decode wraps exactly one of these.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
)

// Registered claim names; extra claims may not override them.
var reservedClaims = map[string]struct{}{
	"sub": {}, "iat": {}, "exp": {}, "nbf": {}, "jti": {}, "iss": {}, "aud": {},
}

// Claims is the decoded content of a verified token. Extra holds the
// non-registered claims that were merged at the top level.
type Claims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

// StringClaim returns an extra claim as a string, or "" if absent or not a string.
func (c *Claims) StringClaim(name string) string {
	v, _ := c.Extra[name].(string)
	return v
}

// JWTService encodes and decodes HS256 access tokens. The signing key and
// issuer are process configuration; issuing and verifying services must share
// the same key.
type JWTService struct {
	signingKey []byte
	issuer     string
	defaultTTL time.Duration
	clock      func() time.Time
}

// Option configures a JWTService.
type Option func(*JWTService)

// WithIssuer sets the iss claim and requires it on decode.
func WithIssuer(issuer string) Option {
	return func(s *JWTService) {
		s.issuer = issuer
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *JWTService) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithClock sets the time source used for issuing and expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(s *JWTService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewJWTService(signingKey string, opts ...Option) *JWTService {
	s := &JWTService{
		signingKey: []byte(signingKey),
		defaultTTL: DefaultTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultTTL returns the configured token lifetime.
func (s *JWTService) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Encode signs a token for subject with extra claims merged at the top level.
// Issuance time is truncated to whole seconds, the precision of the wire
// format, so exp is exactly iat + ttl.
func (s *JWTService) Encode(subject string, extra map[string]any, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, dErrors.New(dErrors.CodeInternal, "token subject is required")
	}
	now := s.clock().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	claims := jwt.MapClaims{}
	for k, v := range extra {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		claims[k] = v
	}
	claims["sub"] = subject
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(expiresAt)
	claims["jti"] = uuid.NewString()
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, expiresAt, nil
}

// Decode verifies the signature first, then expiry. There is no leeway: a
// token is rejected from its exp instant onwards.
func (s *JWTService) Decode(tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}

	mapClaims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, mapClaims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, parserOpts...)
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, dErrors.Wrap(ErrInvalidSignature, dErrors.CodeUnauthorized, "invalid token")
	}

	return toClaims(mapClaims)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return dErrors.Wrap(ErrMalformed, dErrors.CodeUnauthorized, "malformed token")
	case errors.Is(err, jwt.ErrTokenExpired):
		return dErrors.Wrap(ErrExpired, dErrors.CodeUnauthorized, "token has expired")
	default:
		// bad signature, unexpected alg, foreign issuer
		return dErrors.Wrap(ErrInvalidSignature, dErrors.CodeUnauthorized, "invalid token")
	}
}

func toClaims(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, dErrors.Wrap(ErrMalformed, dErrors.CodeUnauthorized, "malformed token")
	}
	claims := &Claims{Subject: sub}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.UTC()
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.UTC()
	}
	claims.ID, _ = mc["jti"].(string)

	extra := maps.Clone(map[string]any(mc))
	for k := range reservedClaims {
		delete(extra, k)
	}
	claims.Extra = extra
	return claims, nil
}
