package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

// Repository reads consents only through a predicate scoped to a visible
// consultation.
type Repository interface {
	List(ctx context.Context, pred predicate.Expr, archived *bool, limit, offset int) ([]*Consent, int, error)
	Get(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consent, error)
	GetForUpdate(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consent, error)
	Create(ctx context.Context, c *Consent) error
	Update(ctx context.Context, c *Consent) error
	// ArchiveActive archives every non-archived consent of the type on the
	// consultation and reports how many were archived.
	ArchiveActive(ctx context.Context, consultationID int64, t Type, by int64, at time.Time) (int64, error)
}
