package db

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AtomicRequests wraps every mutating request in a single transaction that
// commits when the handler succeeds and rolls back when it returns an error
// or a 5xx status. Routes registered through Exempt run without it, so their
// writes land independently of each other.
type AtomicRequests struct {
	b      Beginner
	exempt map[string]bool
	logger zerolog.Logger
}

func NewAtomicRequests(b Beginner, logger zerolog.Logger) *AtomicRequests {
	return &AtomicRequests{
		b:      b,
		exempt: make(map[string]bool),
		logger: logger,
	}
}

// Exempt excludes a registered route (method plus echo path pattern).
func (a *AtomicRequests) Exempt(method, path string) {
	a.exempt[method+" "+path] = true
}

// IsExempt reports whether the route runs outside the request transaction.
func (a *AtomicRequests) IsExempt(method, path string) bool {
	return a.exempt[method+" "+path]
}

func (a *AtomicRequests) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}
			if a.IsExempt(req.Method, c.Path()) {
				return next(c)
			}

			ctx := req.Context()
			txCtx, tx, err := WithTx(ctx, a.b)
			if err != nil {
				a.logger.Error().Err(err).Str("path", c.Path()).Msg("begin request transaction")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer tx.Rollback(ctx)

			c.SetRequest(req.WithContext(txCtx))
			err = next(c)
			c.SetRequest(req)

			if err != nil || c.Response().Status >= http.StatusInternalServerError {
				return err
			}
			if cerr := tx.Commit(ctx); cerr != nil {
				a.logger.Error().Err(cerr).Str("path", c.Path()).Msg("commit request transaction")
				return echo.NewHTTPError(http.StatusInternalServerError, "transaction commit failed")
			}
			return nil
		}
	}
}
