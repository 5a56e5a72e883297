package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/repositories"
)

const actorKey = "actor"

var ErrInvalidToken = errors.New("invalid token")

// Authenticator turns a bearer token into the marketplace user it was issued for.
// The token subject is the username.
type Authenticator struct {
	secret []byte
	users  repositories.UserRepository
}

func NewAuthenticator(secret string, users repositories.UserRepository) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// Authenticate validates token and resolves its subject.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (models.User, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return models.User{}, ErrInvalidToken
	}

	user, err := a.users.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return models.User{}, ErrInvalidToken
		}
		return models.User{}, err
	}
	return user, nil
}

// Issue signs a token for username. Used by tooling and tests; the marketplace
// account service issues production tokens with the same secret.
func (a *Authenticator) Issue(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// AuthMiddleware validates the Authorization header and stores the caller.
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve caller"})
			return
		}

		SetActor(c, user)
		c.Next()
	}
}

// RequirePathUser rejects requests whose :username differs from the caller.
func RequirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := Actor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller"})
			return
		}
		if c.Param("username") != actor.Username {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "username does not match caller"})
			return
		}
		c.Next()
	}
}

func SetActor(c *gin.Context, user models.User) {
	c.Set(actorKey, user)
}

// Actor returns the authenticated caller.
func Actor(c *gin.Context) (models.User, bool) {
	val, ok := c.Get(actorKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok
}
