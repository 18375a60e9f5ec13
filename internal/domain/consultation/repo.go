package consultation

import (
	"context"

	"github.com/google/uuid"

	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

// Repository reads consultations only through an access predicate; the
// unscoped lookups serve device and bookkeeping paths that have no user scope.
type Repository interface {
	List(ctx context.Context, pred predicate.Expr, f Filter, limit, offset int) ([]*Consultation, int, error)
	Get(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consultation, error)
	// GetForUpdate is Get with the consultation row locked until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consultation, error)
	Create(ctx context.Context, c *Consultation) error
	Update(ctx context.Context, c *Consultation) error
	// LatestActiveInAssignment returns the newest consultation of an active
	// patient currently placed through the bed assignment.
	LatestActiveInAssignment(ctx context.Context, assignmentID int64) (*Consultation, error)

	GetPatient(ctx context.Context, externalID uuid.UUID) (*Patient, error)
	HasOpenConsultation(ctx context.Context, patientID int64) (bool, error)
	// LinkPatient points the patient at its newest consultation and facility.
	LinkPatient(ctx context.Context, patientID, consultationID, facilityID int64) error
	SetPatientActive(ctx context.Context, patientID int64, active bool) error
}
