package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireAsset rejects callers whose token is not bound to an asset.
func RequireAsset() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AssetIDFromContext(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusForbidden, "this action is only available to asset users")
			}
			return next(c)
		}
	}
}

// SafeMethodsForAssets limits asset-bound callers to GET and HEAD.
func SafeMethodsForAssets() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AssetIDFromContext(c.Request().Context()) == "" {
				return next(c)
			}
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead:
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden, "asset users may only read")
		}
	}
}
