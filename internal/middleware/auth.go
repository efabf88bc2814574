package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/session"
	"github.com/ipimonitor/ipi-api/pkg/auth"
	"github.com/redis/go-redis/v9"
)

// CookieName carries the session token for browser requests
const CookieName = "ipi_session"

// LoginPath is where unauthenticated page requests are sent
const LoginPath = "/login"

// Context keys set by the middleware
const (
	KeyClaims   = "claims"
	KeyState    = "session"
	KeyAuthUser = "auth_user"
)

// Authenticator resolves a request's session token to a live session state
type Authenticator struct {
	jwtManager *auth.JWTManager
	registry   *session.Registry
	rdb        *redis.Client
}

func NewAuthenticator(jwtManager *auth.JWTManager, registry *session.Registry, rdb *redis.Client) *Authenticator {
	return &Authenticator{jwtManager: jwtManager, registry: registry, rdb: rdb}
}

var (
	errNoToken      = errors.New("Authentication required")
	errRevoked      = errors.New("Token has been revoked")
	errInvalidToken = errors.New("Invalid or expired token")
	errNoSession    = errors.New("Session has ended")
)

// TokenFromRequest reads the session token from the Authorization header, then the cookie
func TokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := c.Cookie(CookieName); err == nil {
		return cookie
	}
	return ""
}

// verify checks the token itself: signature, expiry and revocation.
// The returned status is only meaningful when err is set.
func (a *Authenticator) verify(c *gin.Context) (*auth.Claims, int, error) {
	token := TokenFromRequest(c)
	if token == "" {
		return nil, http.StatusUnauthorized, errNoToken
	}

	claims, err := a.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, http.StatusUnauthorized, errInvalidToken
	}

	// Check blacklist
	exists, err := a.rdb.Exists(c.Request.Context(), "blacklist:"+claims.ID).Result()
	if err != nil {
		// Fail closed
		return nil, http.StatusInternalServerError, errors.New("Auth server error")
	}
	if exists > 0 {
		return nil, http.StatusUnauthorized, errRevoked
	}
	return claims, 0, nil
}

// resolve authenticates c against a live session
func (a *Authenticator) resolve(c *gin.Context) (int, error) {
	claims, status, err := a.verify(c)
	if err != nil {
		return status, err
	}

	state, err := a.registry.Get(c.Request.Context(), claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return http.StatusUnauthorized, errNoSession
		}
		return http.StatusInternalServerError, errors.New("Auth server error")
	}
	if state.User() == nil {
		return http.StatusUnauthorized, errNoSession
	}

	// Store session info in context for downstream handlers
	c.Set(KeyClaims, claims)
	c.Set(KeyState, state)
	c.Set(KeyAuthUser, claims.AuthUser)
	return 0, nil
}

// RequireAPI answers unauthenticated API requests with 401 JSON
func (a *Authenticator) RequireAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		if status, err := a.resolve(c); err != nil {
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// RequirePage sends unauthenticated page requests to the login page,
// remembering where they were headed
func (a *Authenticator) RequirePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		if status, err := a.resolve(c); err != nil {
			if status == http.StatusInternalServerError {
				c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
				return
			}
			c.Redirect(http.StatusFound, LoginPath+"?from="+url.QueryEscape(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Optional resolves a session when one is presented and never rejects the request
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if TokenFromRequest(c) != "" {
			_, _ = a.resolve(c)
		}
		c.Next()
	}
}

// RequireToken accepts any valid, unrevoked token even when its session is
// already gone, so logout can still clean up after an expired backend session
func (a *Authenticator) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, status, err := a.verify(c)
		if err != nil {
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Set(KeyClaims, claims)
		c.Set(KeyAuthUser, claims.AuthUser)
		c.Next()
	}
}

// OptionalToken sets the claims of a valid token and never rejects the request
func (a *Authenticator) OptionalToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if TokenFromRequest(c) != "" {
			if claims, _, err := a.verify(c); err == nil {
				c.Set(KeyClaims, claims)
				c.Set(KeyAuthUser, claims.AuthUser)
			}
		}
		c.Next()
	}
}

// Claims returns the token claims set by the middleware
func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(KeyClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// State returns the session state set by the middleware
func State(c *gin.Context) *session.State {
	v, ok := c.Get(KeyState)
	if !ok {
		return nil
	}
	state, _ := v.(*session.State)
	return state
}
