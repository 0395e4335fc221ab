// Package auth issues and validates bearer tokens scoped to missions.
package auth

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrForbidden        = errors.New("forbidden")
)

// Claims are the JWT claims of an API token.
type Claims struct {
	jwt.RegisteredClaims
	// Missions lists the missions the bearer may use. "*" allows all.
	Missions []string `json:"missions,omitempty"`
	// Admin allows mission management.
	Admin bool `json:"admin,omitempty"`
	// ReadOnly restricts the bearer to reads.
	ReadOnly bool `json:"ro,omitempty"`
}

// AllowsMission reports whether the claims grant access to mission.
func (c *Claims) AllowsMission(mission string) bool {
	if c.Admin {
		return true
	}
	return slices.Contains(c.Missions, "*") || slices.Contains(c.Missions, mission)
}

// TokenService signs and validates HS256 tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewTokenService creates a TokenService. A zero ttl means 24h.
func NewTokenService(signingKey []byte, issuer string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{signingKey: signingKey, issuer: issuer, ttl: ttl}
}

// TokenRequest describes a token to issue.
type TokenRequest struct {
	Subject  string
	Missions []string
	Admin    bool
	ReadOnly bool
	TTL      time.Duration
}

// Issue signs a new token.
func (s *TokenService) Issue(req TokenRequest) (string, error) {
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.ttl
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Missions: req.Missions,
		Admin:    req.Admin,
		ReadOnly: req.ReadOnly,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// Validate parses a token and checks its signature, expiry and issuer.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearerToken extracts the token from an Authorization header.
func ExtractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// HashAdminKey hashes a static admin key for storage in configuration.
func HashAdminKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

// CheckAdminKey checks a presented admin key against its bcrypt hash.
func CheckAdminKey(key, hash string) bool {
	if key == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
