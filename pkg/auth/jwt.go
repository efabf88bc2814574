package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "ipi-api"

// Claims identify one browser session. The hosted tokens stay server side;
// the cookie only carries the session id.
type Claims struct {
	SessionID string `json:"sid"`
	AuthUser  string `json:"auth_user"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// Remaining is how long the token is still valid
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// JWTManager handles session token operations
type JWTManager struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// Expiry is the lifetime of issued tokens
func (j *JWTManager) Expiry() time.Duration {
	return j.expiry
}

// GenerateToken signs a session token and returns it with its token id
func (j *JWTManager) GenerateToken(sessionID, authUser, email string) (string, string, error) {
	now := j.now()
	jti := uuid.NewString()
	claims := &Claims{
		SessionID: sessionID,
		AuthUser:  authUser,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   authUser,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// ValidateToken parses and validates a session token
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(j.now))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
