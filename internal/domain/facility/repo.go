package facility

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JavidSumra/care-be/internal/platform/db"
)

type Repository interface {
	GetByExternalID(ctx context.Context, externalID uuid.UUID) (*Facility, error)
	// AccessibleFacilityIDs returns the facilities a user reaches through
	// direct facility membership or through a facility organization.
	AccessibleFacilityIDs(ctx context.Context, userID int64) ([]int64, error)
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func scanFacility(row pgx.Row) (*Facility, error) {
	var f Facility
	err := row.Scan(&f.ID, &f.ExternalID, &f.Name, &f.StateID, &f.DistrictID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan facility: %w", err)
	}
	return &f, nil
}

func (r *repoPG) GetByExternalID(ctx context.Context, externalID uuid.UUID) (*Facility, error) {
	return scanFacility(r.conn(ctx).QueryRow(ctx, `
		SELECT id, external_id, name, state_id, district_id
		FROM facility WHERE external_id = $1 AND NOT deleted`, externalID))
}

func (r *repoPG) AccessibleFacilityIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT fu.facility_id
		FROM facility_user fu
		JOIN facility f ON f.id = fu.facility_id AND NOT f.deleted
		WHERE fu.user_id = $1
		UNION
		SELECT fo.facility_id
		FROM facility_organization_user fou
		JOIN facility_organization fo ON fo.id = fou.organization_id AND NOT fo.deleted
		JOIN facility f ON f.id = fo.facility_id AND NOT f.deleted
		WHERE fou.user_id = $1 AND NOT fou.deleted
		ORDER BY 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query accessible facilities: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan facility id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
