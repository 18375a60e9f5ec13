package consultation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JavidSumra/care-be/internal/domain/facility"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

// Logical fields of a consultation that access rules refer to.
const (
	FieldID                      predicate.Field = "id"
	FieldFacility                predicate.Field = "facility"
	FieldPatientActive           predicate.Field = "patient.is_active"
	FieldPatientFacility         predicate.Field = "patient.facility"
	FieldPatientFacilityState    predicate.Field = "patient.facility.state"
	FieldPatientFacilityDistrict predicate.Field = "patient.facility.district"
)

// FieldConsentConsultation is the parent consultation id of a consent.
const FieldConsentConsultation predicate.Field = "consultation"

// FacilityResolver yields the facilities a user reaches through membership.
type FacilityResolver interface {
	AccessibleFacilities(ctx context.Context, userID int64) ([]int64, error)
}

// Lookup fetches a single consultation restricted by a predicate.
type Lookup interface {
	Get(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consultation, error)
}

type tier struct {
	name    string
	applies func(u *user.User) bool
	build   func(ctx context.Context, u *user.User, r FacilityResolver) (predicate.Expr, error)
}

func atLeast(threshold user.Type) func(*user.User) bool {
	return func(u *user.User) bool { return u.UserType.AtLeast(threshold) }
}

// tiers is evaluated top-down and the first applicable tier alone decides
// the predicate. Tiers above StateLabAdmin fall into the state tier.
var tiers = []tier{
	{
		name:    "superuser",
		applies: func(u *user.User) bool { return u.IsSuperuser },
		build: func(context.Context, *user.User, FacilityResolver) (predicate.Expr, error) {
			return predicate.All(), nil
		},
	},
	{
		name:    "state",
		applies: atLeast(user.StateLabAdmin),
		build: func(_ context.Context, u *user.User, _ FacilityResolver) (predicate.Expr, error) {
			return eqOrNone(FieldPatientFacilityState, u.StateID), nil
		},
	},
	{
		name:    "district",
		applies: atLeast(user.DistrictLabAdmin),
		build: func(_ context.Context, u *user.User, _ FacilityResolver) (predicate.Expr, error) {
			return eqOrNone(FieldPatientFacilityDistrict, u.DistrictID), nil
		},
	},
	{
		name:    "facility",
		applies: func(*user.User) bool { return true },
		build:   facilityScope,
	},
}

// facilityScope admits active patients of accessible facilities, plus every
// consultation held at the user's home facility.
func facilityScope(ctx context.Context, u *user.User, r FacilityResolver) (predicate.Expr, error) {
	if r == nil {
		return nil, errors.New("no facility resolver")
	}
	accessible, err := r.AccessibleFacilities(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	scope := []predicate.Expr{
		predicate.And(
			predicate.Eq(FieldPatientActive, true),
			predicate.In(FieldPatientFacility, accessible),
		),
	}
	if u.HomeFacilityID != nil {
		scope = append(scope, predicate.Eq(FieldFacility, *u.HomeFacilityID))
	}
	return predicate.Or(scope...), nil
}

// eqOrNone matches nothing when the user has no value for the scope.
func eqOrNone(f predicate.Field, v *int64) predicate.Expr {
	if v == nil {
		return predicate.Or()
	}
	return predicate.Eq(f, *v)
}

func tierFor(u *user.User) tier {
	for _, t := range tiers {
		if t.applies(u) {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// BuildConsultationPredicate returns the predicate selecting exactly the
// consultations u may see. The resolver is called at most once.
func BuildConsultationPredicate(ctx context.Context, u *user.User, r FacilityResolver) (predicate.Expr, error) {
	if u == nil {
		return nil, errors.New("no user")
	}
	t := tierFor(u)
	p, err := t.build(ctx, u, r)
	if err != nil {
		return nil, fmt.Errorf("build %s access predicate: %w", t.name, err)
	}
	return p, nil
}

// BuildConsentPredicate resolves the named consultation through the
// consultation predicate and returns a predicate selecting its consents. An
// invisible consultation is ErrNotFound, never an empty result.
func BuildConsentPredicate(ctx context.Context, u *user.User, consultationExternalID uuid.UUID, r FacilityResolver, lookup Lookup) (predicate.Expr, *Consultation, error) {
	pred, err := BuildConsultationPredicate(ctx, u, r)
	if err != nil {
		return nil, nil, err
	}
	c, err := lookup.Get(ctx, pred, consultationExternalID)
	if err != nil {
		return nil, nil, err
	}
	return predicate.Eq(FieldConsentConsultation, c.ID), c, nil
}

// CanAccessFacility reports whether u could see a consultation of an active
// patient held at f. It gates creating consultations at a facility.
func CanAccessFacility(ctx context.Context, u *user.User, f *facility.Facility, r FacilityResolver) (bool, error) {
	pred, err := BuildConsultationPredicate(ctx, u, r)
	if err != nil {
		return false, err
	}
	probe := &Consultation{
		FacilityID:                f.ID,
		PatientActive:             true,
		PatientFacilityID:         &f.ID,
		PatientFacilityStateID:    f.StateID,
		PatientFacilityDistrictID: f.DistrictID,
	}
	return pred.Eval(probe), nil
}
