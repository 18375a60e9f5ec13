package bed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("bed not found")
	ErrAssignmentNotFound = errors.New("no open bed assignment")
)

type Bed struct {
	ID         int64     `json:"-"`
	ExternalID uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	FacilityID int64     `json:"-"`
	LocationID int64     `json:"-"`
}

type Location struct {
	ExternalID uuid.UUID `json:"id"`
	Name       string    `json:"name"`
}

type Asset struct {
	ID              int64     `json:"-"`
	ExternalID      uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	AssetClass      *string   `json:"asset_class"`
	CurrentLocation *Location `json:"current_location"`
}

// Assignment places a consultation in a bed between StartDate and EndDate.
// An open assignment has no end date.
type Assignment struct {
	ID             int64      `json:"-"`
	ExternalID     uuid.UUID  `json:"id"`
	ConsultationID int64      `json:"-"`
	BedID          int64      `json:"-"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`

	Bed    *Bed     `json:"bed,omitempty"`
	Assets []*Asset `json:"assets"`
}

func (a *Assignment) IsOpen() bool {
	return a.EndDate == nil
}

// AssetBed links a camera or monitor to a bed; Meta carries device presets.
type AssetBed struct {
	ExternalID uuid.UUID       `json:"id"`
	Asset      *Asset          `json:"asset_object"`
	Bed        *Bed            `json:"bed_object"`
	Meta       json.RawMessage `json:"meta"`
}
