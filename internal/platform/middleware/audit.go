package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AuditEntry describes one access to patient data.
type AuditEntry struct {
	Subject        string
	AssetID        string
	Resource       string
	ConsultationID string
	ConsentID      string
	Action         string // read, create, update, delete, discharge, email
	IPAddress      string
	UserAgent      string
	Path           string
	Method         string
	Timestamp      time.Time
	RequestID      string
	StatusCode     int
}

// AuditRecorder persists audit entries somewhere other than the log stream.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs a phi_access event for every consultation and consent request
// after the handler has run, and hands the entry to the optional recorder.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Subject:    auth.SubjectFromContext(ctx),
				AssetID:    auth.AssetIDFromContext(ctx),
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
			}
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				entry.StatusCode = he.Code
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			entry.Resource, entry.ConsultationID, entry.ConsentID = parseAuditPath(path)
			entry.Action = auditAction(req.Method, path)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("subject", entry.Subject).
				Str("asset_id", entry.AssetID).
				Str("resource_type", entry.Resource).
				Str("consultation_id", entry.ConsultationID).
				Str("consent_id", entry.ConsentID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, apiPrefix+"consultation")
}

func auditAction(method, path string) string {
	switch {
	case strings.HasSuffix(path, "/discharge_patient/"):
		return "discharge"
	case strings.HasSuffix(path, "/email_discharge_summary/"):
		return "email"
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// parseAuditPath splits /api/v1/consultation/<id>/consents/<id>/ into the
// innermost resource type and the ids present.
//
//	/api/v1/consultation/                    -> consultation
//	/api/v1/consultation/<id>/               -> consultation, <id>
//	/api/v1/consultation/<id>/consents/<id>/ -> consent, <id>, <id>
func parseAuditPath(path string) (resource, consultationID, consentID string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	resource = "consultation"
	if len(segments) > 1 && isUUIDLike(segments[1]) {
		consultationID = segments[1]
	}
	if len(segments) > 2 && segments[2] == "consents" {
		resource = "consent"
		if len(segments) > 3 && isUUIDLike(segments[3]) {
			consentID = segments[3]
		}
	}
	return resource, consultationID, consentID
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
