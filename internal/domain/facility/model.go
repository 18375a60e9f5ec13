package facility

import (
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("facility not found")

type Facility struct {
	ID         int64     `json:"-"`
	ExternalID uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	StateID    *int64    `json:"-"`
	DistrictID *int64    `json:"-"`
}
