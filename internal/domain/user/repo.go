package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("user not found")

type Repository interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*User, error)
	GetByExternalID(ctx context.Context, externalID uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// GetByAssetExternalID returns the account bound to the asset.
	GetByAssetExternalID(ctx context.Context, assetExternalID uuid.UUID) (*User, error)
	// SkillsFor returns the non-deleted skills of each user, keyed by user id.
	SkillsFor(ctx context.Context, userIDs []int64) (map[int64][]Skill, error)
}
