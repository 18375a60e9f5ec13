package user

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/platform/auth"
)

type contextKey struct{}

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// FromContext returns the authenticated user, or nil.
func FromContext(ctx context.Context) *User {
	u, _ := ctx.Value(contextKey{}).(*User)
	return u
}

// Middleware resolves the token identity to an active account. Device tokens
// carry an asset id and resolve to the account bound to that asset; all
// others resolve by username. Requests with no identity pass through so that
// public paths keep working.
func Middleware(repo Repository, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			subject := auth.SubjectFromContext(ctx)
			assetID := auth.AssetIDFromContext(ctx)
			if subject == "" && assetID == "" {
				return next(c)
			}

			u, err := resolve(ctx, repo, subject, assetID)
			if errors.Is(err, ErrNotFound) || (err == nil && !u.IsActive) {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown or inactive user")
			}
			if err != nil {
				logger.Error().Err(err).Str("subject", subject).Msg("load user")
				return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user")
			}

			c.SetRequest(c.Request().WithContext(WithUser(ctx, u)))
			return next(c)
		}
	}
}

func resolve(ctx context.Context, repo Repository, subject, assetID string) (*User, error) {
	if assetID == "" {
		return repo.GetByUsername(ctx, subject)
	}
	id, err := uuid.Parse(assetID)
	if err != nil {
		return nil, ErrNotFound
	}
	return repo.GetByAssetExternalID(ctx, id)
}

// Require rejects requests without a resolved user.
func Require() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if FromContext(c.Request().Context()) == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}
