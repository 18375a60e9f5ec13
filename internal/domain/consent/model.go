package consent

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JavidSumra/care-be/internal/domain/consultation"
	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

var (
	ErrNotFound = errors.New("consent not found")
	// ErrArchived rejects changes to a consent that has been superseded.
	ErrArchived = errors.New("archived consents cannot be modified")
)

type Type int

const (
	ConsentForAdmission Type = 1
	PatientCodeStatus   Type = 2
	ConsentForProcedure Type = 3
	HighRiskConsent     Type = 4
	Others              Type = 5
)

var typeNames = map[Type]string{
	ConsentForAdmission: "consent_for_admission",
	PatientCodeStatus:   "patient_code_status",
	ConsentForProcedure: "consent_for_procedure",
	HighRiskConsent:     "high_risk_consent",
	Others:              "others",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

type CodeStatus int

const (
	DoNotHospitalize CodeStatus = 1
	DoNotResuscitate CodeStatus = 2
	ComfortCare      CodeStatus = 3
	ActiveTreatment  CodeStatus = 4
)

func (s CodeStatus) Valid() bool {
	return s >= DoNotHospitalize && s <= ActiveTreatment
}

// Consent is a consent record attached to a consultation. At most one
// non-archived consent of each type exists per consultation.
type Consent struct {
	ID                     int64       `json:"-"`
	ExternalID             uuid.UUID   `json:"id"`
	ConsultationID         int64       `json:"-"`
	ConsultationExternalID uuid.UUID   `json:"consultation"`
	Type                   Type        `json:"type"`
	PatientCodeStatus      *CodeStatus `json:"patient_code_status"`

	Archived     bool       `json:"archived"`
	ArchivedByID *int64     `json:"-"`
	ArchivedBy   *uuid.UUID `json:"archived_by"`
	ArchivedDate *time.Time `json:"archived_date"`

	CreatedByID  *int64     `json:"-"`
	CreatedBy    *uuid.UUID `json:"created_by"`
	CreatedDate  time.Time  `json:"created_date"`
	ModifiedDate time.Time  `json:"modified_date"`
}

func (c *Consent) Value(f predicate.Field) (any, bool) {
	if f == consultation.FieldConsentConsultation {
		return c.ConsultationID, true
	}
	return nil, false
}
