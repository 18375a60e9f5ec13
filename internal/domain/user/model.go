package user

import (
	"time"

	"github.com/google/uuid"
)

// Type is the user's role tier. Tiers are totally ordered; access checks
// compare with >= against a threshold.
type Type int

const (
	Transportation        Type = 2
	Pharmacist            Type = 3
	Volunteer             Type = 5
	StaffReadOnly         Type = 9
	Staff                 Type = 10
	NurseReadOnly         Type = 13
	Nurse                 Type = 14
	Doctor                Type = 15
	Reserved              Type = 20
	WardAdmin             Type = 21
	LocalBodyAdmin        Type = 23
	DistrictLabAdmin      Type = 25
	DistrictReadOnlyAdmin Type = 29
	DistrictAdmin         Type = 30
	StateLabAdmin         Type = 35
	StateReadOnlyAdmin    Type = 39
	StateAdmin            Type = 40
)

var typeNames = map[Type]string{
	Transportation:        "Transportation",
	Pharmacist:            "Pharmacist",
	Volunteer:             "Volunteer",
	StaffReadOnly:         "StaffReadOnly",
	Staff:                 "Staff",
	NurseReadOnly:         "NurseReadOnly",
	Nurse:                 "Nurse",
	Doctor:                "Doctor",
	Reserved:              "Reserved",
	WardAdmin:             "WardAdmin",
	LocalBodyAdmin:        "LocalBodyAdmin",
	DistrictLabAdmin:      "DistrictLabAdmin",
	DistrictReadOnlyAdmin: "DistrictReadOnlyAdmin",
	DistrictAdmin:         "DistrictAdmin",
	StateLabAdmin:         "StateLabAdmin",
	StateReadOnlyAdmin:    "StateReadOnlyAdmin",
	StateAdmin:            "StateAdmin",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// AtLeast reports whether t is at or above threshold.
func (t Type) AtLeast(threshold Type) bool {
	return t >= threshold
}

type User struct {
	ID             int64     `json:"-"`
	ExternalID     uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Email          string    `json:"email,omitempty"`
	UserType       Type      `json:"user_type"`
	IsSuperuser    bool      `json:"is_superuser"`
	IsActive       bool      `json:"-"`
	HomeFacilityID *int64    `json:"-"`
	StateID        *int64    `json:"-"`
	DistrictID     *int64    `json:"-"`
	// AssetID is set for accounts bound to a bedside device.
	AssetID     *int64    `json:"-"`
	CreatedDate time.Time `json:"-"`
}

// IsAssetUser reports whether the account belongs to a device.
func (u *User) IsAssetUser() bool {
	return u != nil && u.AssetID != nil
}

type Skill struct {
	ID         int64     `json:"-"`
	ExternalID uuid.UUID `json:"id"`
	Name       string    `json:"name"`
}

// Summary is the nested representation of a user on other resources.
type Summary struct {
	ExternalID uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	UserType   string    `json:"user_type"`
	Skills     []Skill   `json:"skills"`
}

func (u *User) Summary(skills []Skill) *Summary {
	if skills == nil {
		skills = []Skill{}
	}
	return &Summary{
		ExternalID: u.ExternalID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		UserType:   u.UserType.String(),
		Skills:     skills,
	}
}
