package bed

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	GetByExternalID(ctx context.Context, externalID uuid.UUID) (*Bed, error)
	// OpenAssignmentForAsset returns the most recent open assignment whose
	// assets include the asset or whose bed is linked to it.
	OpenAssignmentForAsset(ctx context.Context, assetID int64) (*Assignment, error)
	// OpenAssignmentForBed returns the bed's current occupant assignment, if any.
	OpenAssignmentForBed(ctx context.Context, bedID int64) (*Assignment, error)
	CreateAssignment(ctx context.Context, a *Assignment) error
	CloseAssignment(ctx context.Context, assignmentID int64, end time.Time) error
	// Assignments loads assignments with their bed and assets, keyed by id.
	Assignments(ctx context.Context, ids []int64) (map[int64]*Assignment, error)
	// ListAssetBeds returns links of bedID to assets at the same location as
	// assetID whose preset name contains preset, case-insensitively.
	ListAssetBeds(ctx context.Context, assetID, bedID int64, preset string) ([]*AssetBed, error)
}
