package user

import (
	"context"
	"errors"
	"fmt"

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

const userCols = `u.id, u.external_id, u.username, u.first_name, u.last_name, u.email,
	u.user_type, u.is_superuser, u.is_active, u.home_facility_id, u.state_id, u.district_id,
	u.asset_id, u.created_date`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.FirstName, &u.LastName, &u.Email,
		&u.UserType, &u.IsSuperuser, &u.IsActive, &u.HomeFacilityID, &u.StateID, &u.DistrictID,
		&u.AssetID, &u.CreatedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *repoPG) GetByIDs(ctx context.Context, ids []int64) (map[int64]*User, error) {
	result := make(map[int64]*User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+userCols+` FROM users u WHERE u.id = ANY($1) AND NOT u.deleted`, ids)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result[u.ID] = u
	}
	return result, rows.Err()
}

func (r *repoPG) GetByExternalID(ctx context.Context, externalID uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM users u WHERE u.external_id = $1 AND NOT u.deleted`, externalID))
}

func (r *repoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM users u WHERE u.username = $1 AND NOT u.deleted`, username))
}

func (r *repoPG) GetByAssetExternalID(ctx context.Context, assetExternalID uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `
		SELECT `+userCols+`
		FROM users u
		JOIN asset a ON a.id = u.asset_id
		WHERE a.external_id = $1 AND NOT a.deleted AND NOT u.deleted`, assetExternalID))
}

func (r *repoPG) SkillsFor(ctx context.Context, userIDs []int64) (map[int64][]Skill, error) {
	result := make(map[int64][]Skill, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT us.user_id, s.id, s.external_id, s.name
		FROM user_skill us
		JOIN skill s ON s.id = us.skill_id
		WHERE us.user_id = ANY($1) AND NOT us.deleted AND NOT s.deleted
		ORDER BY s.name`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("query skills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		var s Skill
		if err := rows.Scan(&userID, &s.ID, &s.ExternalID, &s.Name); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		result[userID] = append(result[userID], s)
	}
	return result, rows.Err()
}
