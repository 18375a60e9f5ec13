package bed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JavidSumra/care-be/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) GetByExternalID(ctx context.Context, externalID uuid.UUID) (*Bed, error) {
	var b Bed
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, external_id, name, facility_id, location_id
		FROM bed WHERE external_id = $1 AND NOT deleted`, externalID).
		Scan(&b.ID, &b.ExternalID, &b.Name, &b.FacilityID, &b.LocationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bed: %w", err)
	}
	return &b, nil
}

const assignmentCols = `cb.id, cb.external_id, cb.consultation_id, cb.bed_id, cb.start_date, cb.end_date`

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.ExternalID, &a.ConsultationID, &a.BedID, &a.StartDate, &a.EndDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bed assignment: %w", err)
	}
	return &a, nil
}

func (r *repoPG) OpenAssignmentForAsset(ctx context.Context, assetID int64) (*Assignment, error) {
	return scanAssignment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+assignmentCols+`
		FROM consultation_bed cb
		WHERE cb.end_date IS NULL AND NOT cb.deleted
		  AND (
		    EXISTS (SELECT 1 FROM consultation_bed_asset cba
		            WHERE cba.consultation_bed_id = cb.id AND cba.asset_id = $1)
		    OR cb.bed_id IN (SELECT ab.bed_id FROM asset_bed ab
		                     WHERE ab.asset_id = $1 AND NOT ab.deleted)
		  )
		ORDER BY cb.id DESC
		LIMIT 1`, assetID))
}

func (r *repoPG) OpenAssignmentForBed(ctx context.Context, bedID int64) (*Assignment, error) {
	return scanAssignment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+assignmentCols+`
		FROM consultation_bed cb
		WHERE cb.bed_id = $1 AND cb.end_date IS NULL AND NOT cb.deleted
		ORDER BY cb.id DESC
		LIMIT 1`, bedID))
}

func (r *repoPG) CreateAssignment(ctx context.Context, a *Assignment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultation_bed (consultation_id, bed_id, start_date)
		VALUES ($1, $2, $3)
		RETURNING id, external_id`,
		a.ConsultationID, a.BedID, a.StartDate,
	).Scan(&a.ID, &a.ExternalID)
	if err != nil {
		return fmt.Errorf("insert bed assignment: %w", err)
	}
	return nil
}

func (r *repoPG) CloseAssignment(ctx context.Context, assignmentID int64, end time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultation_bed SET end_date = $2, modified_date = NOW()
		WHERE id = $1 AND end_date IS NULL`, assignmentID, end)
	if err != nil {
		return fmt.Errorf("close bed assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (r *repoPG) Assignments(ctx context.Context, ids []int64) (map[int64]*Assignment, error) {
	result := make(map[int64]*Assignment, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+assignmentCols+`, b.external_id, b.name, b.facility_id, b.location_id
		FROM consultation_bed cb
		JOIN bed b ON b.id = cb.bed_id
		WHERE cb.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query bed assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a := &Assignment{Bed: &Bed{}, Assets: []*Asset{}}
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.ConsultationID, &a.BedID, &a.StartDate, &a.EndDate,
			&a.Bed.ExternalID, &a.Bed.Name, &a.Bed.FacilityID, &a.Bed.LocationID); err != nil {
			return nil, fmt.Errorf("scan bed assignment: %w", err)
		}
		a.Bed.ID = a.BedID
		result[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	assetRows, err := r.conn(ctx).Query(ctx, `
		SELECT cba.consultation_bed_id, a.id, a.external_id, a.name, a.asset_class,
		       l.external_id, l.name
		FROM consultation_bed_asset cba
		JOIN asset a ON a.id = cba.asset_id AND NOT a.deleted
		JOIN asset_location l ON l.id = a.current_location_id
		WHERE cba.consultation_bed_id = ANY($1)
		ORDER BY a.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("query bed assets: %w", err)
	}
	defer assetRows.Close()

	for assetRows.Next() {
		var assignmentID int64
		asset := &Asset{CurrentLocation: &Location{}}
		if err := assetRows.Scan(&assignmentID, &asset.ID, &asset.ExternalID, &asset.Name, &asset.AssetClass,
			&asset.CurrentLocation.ExternalID, &asset.CurrentLocation.Name); err != nil {
			return nil, fmt.Errorf("scan bed asset: %w", err)
		}
		if a, ok := result[assignmentID]; ok {
			a.Assets = append(a.Assets, asset)
		}
	}
	return result, assetRows.Err()
}

func (r *repoPG) ListAssetBeds(ctx context.Context, assetID, bedID int64, preset string) ([]*AssetBed, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ab.external_id, ab.meta,
		       a.id, a.external_id, a.name, a.asset_class,
		       b.id, b.external_id, b.name, b.facility_id, b.location_id
		FROM asset_bed ab
		JOIN asset a ON a.id = ab.asset_id AND NOT a.deleted
		JOIN bed b ON b.id = ab.bed_id
		WHERE NOT ab.deleted
		  AND ab.bed_id = $2
		  AND a.current_location_id = (SELECT current_location_id FROM asset WHERE id = $1)
		  AND ab.meta->>'preset_name' ILIKE '%' || $3 || '%'
		ORDER BY ab.id`, assetID, bedID, escapeLike(preset))
	if err != nil {
		return nil, fmt.Errorf("query asset beds: %w", err)
	}
	defer rows.Close()

	result := []*AssetBed{}
	for rows.Next() {
		ab := &AssetBed{Asset: &Asset{}, Bed: &Bed{}}
		if err := rows.Scan(&ab.ExternalID, &ab.Meta,
			&ab.Asset.ID, &ab.Asset.ExternalID, &ab.Asset.Name, &ab.Asset.AssetClass,
			&ab.Bed.ID, &ab.Bed.ExternalID, &ab.Bed.Name, &ab.Bed.FacilityID, &ab.Bed.LocationID); err != nil {
			return nil, fmt.Errorf("scan asset bed: %w", err)
		}
		result = append(result, ab)
	}
	return result, rows.Err()
}
