package consultation

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CreateRequest struct {
	Patient           uuid.UUID  `json:"patient"`
	Facility          uuid.UUID  `json:"facility"`
	Suggestion        Suggestion `json:"suggestion"`
	ConsultationNotes string     `json:"consultation_notes"`
	EncounterDate     *time.Time `json:"encounter_date"`
	AssignedTo        *uuid.UUID `json:"assigned_to"`
	Bed               *uuid.UUID `json:"bed"`
}

// Validate checks the payload on its own and fills defaults.
func (r *CreateRequest) Validate(now time.Time) error {
	verr := newValidationError()
	if r.Patient == uuid.Nil {
		verr.Add("patient", "this field is required")
	}
	if r.Facility == uuid.Nil {
		verr.Add("facility", "this field is required")
	}
	if r.Suggestion == "" {
		r.Suggestion = SuggestionAdmission
	}
	if !r.Suggestion.Valid() {
		verr.Add("suggestion", "invalid suggestion")
	}
	if r.EncounterDate == nil {
		t := now
		r.EncounterDate = &t
	} else if r.EncounterDate.After(now) {
		verr.Add("encounter_date", "cannot be in the future")
	}
	if r.Bed != nil && r.Suggestion != SuggestionAdmission {
		verr.Add("bed", "beds can only be assigned to admissions")
	}
	return verr.OrNil()
}

// UpdateRequest changes only the fields that are present.
type UpdateRequest struct {
	Suggestion        *Suggestion `json:"suggestion"`
	ConsultationNotes *string     `json:"consultation_notes"`
	AssignedTo        *uuid.UUID  `json:"assigned_to"`
}

func (r *UpdateRequest) Validate() error {
	if r.Suggestion != nil && !r.Suggestion.Valid() {
		return fieldError("suggestion", "invalid suggestion")
	}
	return nil
}

type DischargeRequest struct {
	NewDischargeReason   DischargeReason `json:"new_discharge_reason"`
	DischargeDate        *time.Time      `json:"discharge_date"`
	DischargeNotes       string          `json:"discharge_notes"`
	ReferredTo           *uuid.UUID      `json:"referred_to"`
	DeathDatetime        *time.Time      `json:"death_datetime"`
	DeathConfirmedDoctor string          `json:"death_confirmed_doctor"`
}

// Validate checks the payload against the consultation being discharged.
func (r *DischargeRequest) Validate(c *Consultation, now time.Time) error {
	verr := newValidationError()

	if !r.NewDischargeReason.Valid() {
		verr.Add("new_discharge_reason", "invalid discharge reason")
	}

	switch {
	case r.DischargeDate == nil:
		verr.Add("discharge_date", "this field is required")
	case r.DischargeDate.After(now):
		verr.Add("discharge_date", "cannot be in the future")
	case r.DischargeDate.Before(c.EncounterDate):
		verr.Add("discharge_date", "cannot be before the encounter date")
	}

	if r.ReferredTo != nil && r.NewDischargeReason != DischargeReferred {
		verr.Add("referred_to", "only allowed when the patient is referred")
	}

	if r.NewDischargeReason == DischargeExpired {
		switch {
		case r.DeathDatetime == nil:
			verr.Add("death_datetime", "this field is required")
		case r.DeathDatetime.After(now):
			verr.Add("death_datetime", "cannot be in the future")
		case r.DeathDatetime.Before(c.EncounterDate):
			verr.Add("death_datetime", "cannot be before the encounter date")
		}
		if strings.TrimSpace(r.DeathConfirmedDoctor) == "" {
			verr.Add("death_confirmed_doctor", "this field is required")
		}
	} else if r.DeathDatetime != nil || r.DeathConfirmedDoctor != "" {
		verr.Add("death_datetime", "only allowed when the patient has expired")
	}

	return verr.OrNil()
}

// apply writes the discharge fields and clears the bed.
func (r *DischargeRequest) apply(c *Consultation, referredToID *int64) {
	reason := r.NewDischargeReason
	date := *r.DischargeDate
	notes := r.DischargeNotes

	c.NewDischargeReason = &reason
	c.DischargeDate = &date
	c.DischargeNotes = &notes
	c.ReferredToID = referredToID
	c.ReferredTo = r.ReferredTo
	c.CurrentBedID = nil
	c.CurrentBed = nil
	if reason == DischargeExpired {
		death := *r.DeathDatetime
		doctor := strings.TrimSpace(r.DeathConfirmedDoctor)
		c.DeathDatetime = &death
		c.DeathConfirmedDoctor = &doctor
	}
}

type EmailRequest struct {
	Email string `json:"email"`
}

func (r *EmailRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return fieldError("email", "this field is required")
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != strings.TrimSpace(r.Email) {
		return fieldError("email", "enter a valid email address")
	}
	return nil
}
