package consent

import (
	"github.com/JavidSumra/care-be/internal/domain/consultation"
)

type CreateRequest struct {
	Type              Type        `json:"type"`
	PatientCodeStatus *CodeStatus `json:"patient_code_status"`
}

func (r *CreateRequest) Validate() error {
	return validateFields(r.Type, r.PatientCodeStatus)
}

// UpdateRequest changes only the fields that are present. Setting Archived
// is one-way.
type UpdateRequest struct {
	Type              *Type       `json:"type"`
	PatientCodeStatus *CodeStatus `json:"patient_code_status"`
	Archived          *bool       `json:"archived"`
}

// merged returns the type and code status the consent would have after r.
func (r *UpdateRequest) merged(c *Consent) (Type, *CodeStatus) {
	t, status := c.Type, c.PatientCodeStatus
	if r.Type != nil {
		t = *r.Type
	}
	if r.PatientCodeStatus != nil {
		status = r.PatientCodeStatus
	}
	if t != PatientCodeStatus && r.Type != nil && r.PatientCodeStatus == nil {
		status = nil
	}
	return t, status
}

// validateFields requires a code status exactly for code status consents.
func validateFields(t Type, status *CodeStatus) error {
	verr := &consultation.ValidationError{Fields: map[string]string{}}
	if !t.Valid() {
		verr.Add("type", "invalid consent type")
	}
	switch {
	case t == PatientCodeStatus && status == nil:
		verr.Add("patient_code_status", "this field is required for a patient code status consent")
	case t != PatientCodeStatus && status != nil:
		verr.Add("patient_code_status", "only allowed for a patient code status consent")
	case status != nil && !status.Valid():
		verr.Add("patient_code_status", "invalid patient code status")
	}
	return verr.OrNil()
}
