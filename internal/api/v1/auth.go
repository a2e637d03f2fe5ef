package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/mindtrack/mindtrack-go/internal/datastore"
	"github.com/mindtrack/mindtrack-go/internal/errors"
)

// userContextKey stores the resolved *datastore.User on the echo context.
const userContextKey = "mindtrack_user"

// NewToken signs a stream token for an external user id. EventSource
// clients cannot set headers, so the same token is also accepted as a
// query parameter on the stream endpoint.
func NewToken(secret, externalID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   externalID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// AuthMiddleware authenticates the request and resolves (or provisions)
// the internal user row for the token subject.
func (c *Controller) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		raw := bearerToken(ctx)
		if raw == "" {
			return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "missing token"})
		}

		externalID, err := c.verifyToken(raw)
		if err != nil {
			c.logger.Debug("token rejected", "error", err, "path", ctx.Path())
			return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}

		user, err := c.resolveUser(externalID)
		if err != nil {
			return c.fail(ctx, err, "resolving user failed")
		}

		ctx.Set(userContextKey, user)
		return next(ctx)
	}
}

func bearerToken(ctx echo.Context) string {
	header := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok && after != "" {
		return after
	}
	return ctx.QueryParam("token")
}

func (c *Controller) verifyToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(c.Settings.Security.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// resolveUser maps the external identity to a user row, creating it on
// first contact.
func (c *Controller) resolveUser(externalID string) (*datastore.User, error) {
	user, err := c.store.GetUserByExternalID(externalID)
	if err == nil {
		return user, nil
	}
	var enhanced *errors.EnhancedError
	if !errors.As(err, &enhanced) || enhanced.Category != errors.CategoryNotFound {
		return nil, err
	}

	user = &datastore.User{ExternalID: externalID, Username: externalID}
	if err := c.store.CreateUser(user); err != nil {
		return nil, err
	}
	c.logger.Info("provisioned user", "external_id", externalID, "user_id", user.ID)
	return user, nil
}

// currentUser returns the user resolved by AuthMiddleware.
func currentUser(ctx echo.Context) *datastore.User {
	user, _ := ctx.Get(userContextKey).(*datastore.User)
	return user
}
