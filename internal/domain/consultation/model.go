package consultation

import (
	"time"

	"github.com/google/uuid"

	"github.com/JavidSumra/care-be/internal/domain/bed"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

type Suggestion string

const (
	SuggestionHomeIsolation   Suggestion = "HI"
	SuggestionAdmission       Suggestion = "A"
	SuggestionReferral        Suggestion = "R"
	SuggestionOPConsultation  Suggestion = "OP"
	SuggestionDomiciliaryCare Suggestion = "DC"
	SuggestionDeath           Suggestion = "DD"
)

func (s Suggestion) Valid() bool {
	switch s {
	case SuggestionHomeIsolation, SuggestionAdmission, SuggestionReferral,
		SuggestionOPConsultation, SuggestionDomiciliaryCare, SuggestionDeath:
		return true
	}
	return false
}

type DischargeReason int

const (
	DischargeRecovered DischargeReason = 1
	DischargeReferred  DischargeReason = 2
	DischargeExpired   DischargeReason = 3
	DischargeLAMA      DischargeReason = 4
)

func (r DischargeReason) String() string {
	switch r {
	case DischargeRecovered:
		return "recovered"
	case DischargeReferred:
		return "referred"
	case DischargeExpired:
		return "expired"
	case DischargeLAMA:
		return "lama"
	}
	return "unknown"
}

func (r DischargeReason) Valid() bool {
	return r >= DischargeRecovered && r <= DischargeLAMA
}

type Patient struct {
	ID                 int64
	ExternalID         uuid.UUID
	Name               string
	FacilityID         *int64
	IsActive           bool
	LastConsultationID *int64
}

// Consultation is one care episode of a patient at a facility. It is active
// until discharged; discharge is terminal.
type Consultation struct {
	ID                 int64     `json:"-"`
	ExternalID         uuid.UUID `json:"id"`
	PatientID          int64     `json:"-"`
	PatientExternalID  uuid.UUID `json:"patient"`
	PatientName        string    `json:"patient_name"`
	FacilityID         int64     `json:"-"`
	FacilityExternalID uuid.UUID `json:"facility"`
	FacilityName       string    `json:"facility_name"`

	AssignedToID *int64          `json:"-"`
	AssignedTo   *user.Summary   `json:"assigned_to_object"`
	CurrentBedID *int64          `json:"-"`
	CurrentBed   *bed.Assignment `json:"current_bed"`

	Suggestion        Suggestion `json:"suggestion"`
	ConsultationNotes string     `json:"consultation_notes"`
	EncounterDate     time.Time  `json:"encounter_date"`

	NewDischargeReason   *DischargeReason `json:"new_discharge_reason"`
	DischargeDate        *time.Time       `json:"discharge_date"`
	DischargeNotes       *string          `json:"discharge_notes"`
	ReferredToID         *int64           `json:"-"`
	ReferredTo           *uuid.UUID       `json:"referred_to"`
	DeathDatetime        *time.Time       `json:"death_datetime"`
	DeathConfirmedDoctor *string          `json:"death_confirmed_doctor"`

	CreatedByID    *int64    `json:"-"`
	LastEditedByID *int64    `json:"-"`
	CreatedDate    time.Time `json:"created_date"`
	ModifiedDate   time.Time `json:"modified_date"`

	// Access attributes, joined from the patient and the patient's facility.
	PatientActive             bool   `json:"-"`
	PatientFacilityID         *int64 `json:"-"`
	PatientFacilityStateID    *int64 `json:"-"`
	PatientFacilityDistrictID *int64 `json:"-"`
}

func (c *Consultation) IsDischarged() bool {
	return c.DischargeDate != nil
}

// Value exposes the fields access predicates are written against.
func (c *Consultation) Value(f predicate.Field) (any, bool) {
	switch f {
	case FieldID:
		return c.ID, true
	case FieldFacility:
		return c.FacilityID, true
	case FieldPatientActive:
		return c.PatientActive, true
	case FieldPatientFacility:
		return deref(c.PatientFacilityID)
	case FieldPatientFacilityState:
		return deref(c.PatientFacilityStateID)
	case FieldPatientFacilityDistrict:
		return deref(c.PatientFacilityDistrictID)
	}
	return nil, false
}

func deref(p *int64) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

// AssetPatient is what a bedside device learns about its current patient.
type AssetPatient struct {
	PatientID      uuid.UUID       `json:"patient_id"`
	ConsultationID uuid.UUID       `json:"consultation_id"`
	BedID          uuid.UUID       `json:"bed_id"`
	AssetBeds      []*bed.AssetBed `json:"asset_beds"`
}

// Filter narrows list queries on top of the access predicate.
type Filter struct {
	PatientExternalID *uuid.UUID
	FacilityID        *int64
}
