package consultation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/domain/bed"
	"github.com/JavidSumra/care-be/internal/domain/facility"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/db"
	"github.com/JavidSumra/care-be/internal/platform/events"
	"github.com/JavidSumra/care-be/internal/platform/metrics"
	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

// ErrAssetOnly rejects callers that are not bound to a bedside asset.
var ErrAssetOnly = errors.New("only asset users can perform this action")

// Users is the part of the user store consultations read from.
type Users interface {
	GetByExternalID(ctx context.Context, externalID uuid.UUID) (*user.User, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*user.User, error)
	SkillsFor(ctx context.Context, userIDs []int64) (map[int64][]user.Skill, error)
}

type Facilities interface {
	GetByExternalID(ctx context.Context, externalID uuid.UUID) (*facility.Facility, error)
}

type Service struct {
	repo       Repository
	beds       bed.Repository
	users      Users
	facilities Facilities
	resolver   FacilityResolver
	tx         db.TxRunner
	logger     zerolog.Logger

	publisher events.Publisher
	metrics   *metrics.Metrics
	summaries *SummaryQueue
	now       func() time.Time
}

func NewService(repo Repository, beds bed.Repository, users Users, facilities Facilities,
	resolver FacilityResolver, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		beds:       beds,
		users:      users,
		facilities: facilities,
		resolver:   resolver,
		tx:         tx,
		logger:     logger,
		publisher:  events.Nop{},
		now:        time.Now,
	}
}

// SetPublisher attaches the lifecycle event publisher.
func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.publisher = p
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetSummaryQueue enables discharge summary emails.
func (s *Service) SetSummaryQueue(q *SummaryQueue) {
	s.summaries = q
}

func (s *Service) predicate(ctx context.Context, u *user.User) (predicate.Expr, error) {
	return BuildConsultationPredicate(ctx, u, s.resolver)
}

func (s *Service) List(ctx context.Context, u *user.User, f Filter, limit, offset int) ([]*Consultation, int, error) {
	pred, err := s.predicate(ctx, u)
	if err != nil {
		return nil, 0, err
	}
	cs, total, err := s.repo.List(ctx, pred, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachRelated(ctx, cs); err != nil {
		return nil, 0, err
	}
	return cs, total, nil
}

func (s *Service) Get(ctx context.Context, u *user.User, externalID uuid.UUID) (*Consultation, error) {
	pred, err := s.predicate(ctx, u)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.Get(ctx, pred, externalID)
	if err != nil {
		return nil, err
	}
	if err := s.attachRelated(ctx, []*Consultation{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// Create opens a consultation. It is not atomic: the consultation row is
// written first and stays even if linking the patient or the bed fails.
func (s *Service) Create(ctx context.Context, u *user.User, req *CreateRequest) (*Consultation, error) {
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	patient, err := s.repo.GetPatient(ctx, req.Patient)
	if errors.Is(err, ErrPatientNotFound) {
		return nil, fieldError("patient", "patient does not exist")
	}
	if err != nil {
		return nil, err
	}
	open, err := s.repo.HasOpenConsultation(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, fieldError("patient", "patient already has an active consultation")
	}

	fac, err := s.facilities.GetByExternalID(ctx, req.Facility)
	if errors.Is(err, facility.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ok, err := CanAccessFacility(ctx, u, fac, s.resolver)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	var assignee *user.User
	if req.AssignedTo != nil {
		if assignee, err = s.users.GetByExternalID(ctx, *req.AssignedTo); errors.Is(err, user.ErrNotFound) {
			return nil, fieldError("assigned_to", "user does not exist")
		} else if err != nil {
			return nil, err
		}
	}

	var b *bed.Bed
	if req.Bed != nil {
		if b, err = s.bedForAdmission(ctx, *req.Bed, fac); err != nil {
			return nil, err
		}
	}

	c := &Consultation{
		PatientID:          patient.ID,
		PatientExternalID:  patient.ExternalID,
		PatientName:        patient.Name,
		FacilityID:         fac.ID,
		FacilityExternalID: fac.ExternalID,
		FacilityName:       fac.Name,
		Suggestion:         req.Suggestion,
		ConsultationNotes:  req.ConsultationNotes,
		EncounterDate:      *req.EncounterDate,
		CreatedByID:        &u.ID,

		PatientActive:             true,
		PatientFacilityID:         &fac.ID,
		PatientFacilityStateID:    fac.StateID,
		PatientFacilityDistrictID: fac.DistrictID,
	}
	if assignee != nil {
		c.AssignedToID = &assignee.ID
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	if err := s.repo.LinkPatient(ctx, patient.ID, c.ID, fac.ID); err != nil {
		return nil, err
	}
	if b != nil {
		a := &bed.Assignment{ConsultationID: c.ID, BedID: b.ID, StartDate: c.EncounterDate}
		if err := s.beds.CreateAssignment(ctx, a); err != nil {
			return nil, err
		}
		c.CurrentBedID = &a.ID
		if err := s.repo.Update(ctx, c); err != nil {
			return nil, err
		}
	}

	s.metrics.ConsultationCreated()
	s.publish(ctx, events.ConsultationCreated, c, u)

	if err := s.attachRelated(ctx, []*Consultation{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// bedForAdmission checks the bed is in the facility and free.
func (s *Service) bedForAdmission(ctx context.Context, externalID uuid.UUID, fac *facility.Facility) (*bed.Bed, error) {
	b, err := s.beds.GetByExternalID(ctx, externalID)
	if errors.Is(err, bed.ErrNotFound) {
		return nil, fieldError("bed", "bed does not exist")
	}
	if err != nil {
		return nil, err
	}
	if b.FacilityID != fac.ID {
		return nil, fieldError("bed", "bed does not belong to the facility")
	}
	_, err = s.beds.OpenAssignmentForBed(ctx, b.ID)
	switch {
	case err == nil:
		return nil, fieldError("bed", "bed is already occupied")
	case !errors.Is(err, bed.ErrAssignmentNotFound):
		return nil, err
	}
	return b, nil
}

func (s *Service) Update(ctx context.Context, u *user.User, externalID uuid.UUID, req *UpdateRequest) (*Consultation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pred, err := s.predicate(ctx, u)
	if err != nil {
		return nil, err
	}

	var c *Consultation
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.GetForUpdate(ctx, pred, externalID); err != nil {
			return err
		}
		if c.IsDischarged() {
			return ErrAlreadyDischarged
		}
		if req.Suggestion != nil {
			c.Suggestion = *req.Suggestion
		}
		if req.ConsultationNotes != nil {
			c.ConsultationNotes = *req.ConsultationNotes
		}
		if req.AssignedTo != nil {
			assignee, err := s.users.GetByExternalID(ctx, *req.AssignedTo)
			if errors.Is(err, user.ErrNotFound) {
				return fieldError("assigned_to", "user does not exist")
			}
			if err != nil {
				return err
			}
			c.AssignedToID = &assignee.ID
		}
		c.LastEditedByID = &u.ID
		return s.repo.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ConsultationUpdated, c, u)
	if err := s.attachRelated(ctx, []*Consultation{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// Discharge moves a visible, active consultation to the discharged state. The
// consultation row stays locked from the read until the transaction ends.
func (s *Service) Discharge(ctx context.Context, u *user.User, externalID uuid.UUID, req *DischargeRequest) error {
	pred, err := s.predicate(ctx, u)
	if err != nil {
		return err
	}

	var c *Consultation
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.GetForUpdate(ctx, pred, externalID); err != nil {
			return err
		}
		if c.IsDischarged() {
			return ErrAlreadyDischarged
		}
		if err := req.Validate(c, s.now()); err != nil {
			return err
		}

		var referredToID *int64
		if req.ReferredTo != nil {
			f, err := s.facilities.GetByExternalID(ctx, *req.ReferredTo)
			if errors.Is(err, facility.ErrNotFound) {
				return fieldError("referred_to", "facility does not exist")
			}
			if err != nil {
				return err
			}
			referredToID = &f.ID
		}

		if c.CurrentBedID != nil {
			err := s.beds.CloseAssignment(ctx, *c.CurrentBedID, *req.DischargeDate)
			if err != nil && !errors.Is(err, bed.ErrAssignmentNotFound) {
				return err
			}
		}

		req.apply(c, referredToID)
		c.LastEditedByID = &u.ID
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		return s.repo.SetPatientActive(ctx, c.PatientID, false)
	})
	if err != nil {
		return err
	}

	s.metrics.Discharged(c.NewDischargeReason.String())
	s.publish(ctx, events.ConsultationDischarged, c, u)
	return nil
}

// PatientFromAsset finds the patient currently placed at the caller's asset.
func (s *Service) PatientFromAsset(ctx context.Context, u *user.User, preset string) (*AssetPatient, error) {
	if !u.IsAssetUser() {
		return nil, ErrAssetOnly
	}

	a, err := s.beds.OpenAssignmentForAsset(ctx, *u.AssetID)
	if errors.Is(err, bed.ErrAssignmentNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c, err := s.repo.LatestActiveInAssignment(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	loaded, err := s.beds.Assignments(ctx, []int64{a.ID})
	if err != nil {
		return nil, err
	}
	full, ok := loaded[a.ID]
	if !ok || full.Bed == nil {
		return nil, ErrNotFound
	}

	result := &AssetPatient{
		PatientID:      c.PatientExternalID,
		ConsultationID: c.ExternalID,
		BedID:          full.Bed.ExternalID,
		AssetBeds:      []*bed.AssetBed{},
	}
	if preset != "" {
		abs, err := s.beds.ListAssetBeds(ctx, *u.AssetID, a.BedID, preset)
		if err != nil {
			return nil, err
		}
		if abs != nil {
			result.AssetBeds = abs
		}
	}
	return result, nil
}

// EmailDischargeSummary queues delivery of the summary to an address.
func (s *Service) EmailDischargeSummary(ctx context.Context, u *user.User, externalID uuid.UUID, req *EmailRequest, requestID string) error {
	if err := req.Validate(); err != nil {
		return err
	}
	c, err := s.Get(ctx, u, externalID)
	if err != nil {
		return err
	}
	if s.summaries == nil {
		return ErrQueueClosed
	}
	return s.summaries.Enqueue(c, req.Email, requestID)
}

// Export writes the caller's visible consultations as a spreadsheet.
func (s *Service) Export(ctx context.Context, u *user.User, f Filter, w io.Writer) error {
	cs, _, err := s.List(ctx, u, f, ExportMaxRows, 0)
	if err != nil {
		return err
	}
	return WriteExport(w, cs)
}

// ConsentScope resolves a visible consultation and the predicate over its
// consents.
func (s *Service) ConsentScope(ctx context.Context, u *user.User, consultationExternalID uuid.UUID) (predicate.Expr, *Consultation, error) {
	return BuildConsentPredicate(ctx, u, consultationExternalID, s.resolver, s.repo)
}

// attachRelated loads assignees with their skills and current bed
// assignments in one batch per relation.
func (s *Service) attachRelated(ctx context.Context, cs []*Consultation) error {
	var userIDs, bedIDs []int64
	for _, c := range cs {
		if c.AssignedToID != nil {
			userIDs = append(userIDs, *c.AssignedToID)
		}
		if c.CurrentBedID != nil {
			bedIDs = append(bedIDs, *c.CurrentBedID)
		}
	}

	if len(userIDs) > 0 {
		users, err := s.users.GetByIDs(ctx, userIDs)
		if err != nil {
			return fmt.Errorf("load assignees: %w", err)
		}
		skills, err := s.users.SkillsFor(ctx, userIDs)
		if err != nil {
			return fmt.Errorf("load assignee skills: %w", err)
		}
		for _, c := range cs {
			if c.AssignedToID == nil {
				continue
			}
			if au, ok := users[*c.AssignedToID]; ok {
				c.AssignedTo = au.Summary(skills[au.ID])
			}
		}
	}

	if len(bedIDs) > 0 {
		assignments, err := s.beds.Assignments(ctx, bedIDs)
		if err != nil {
			return fmt.Errorf("load bed assignments: %w", err)
		}
		for _, c := range cs {
			if c.CurrentBedID != nil {
				c.CurrentBed = assignments[*c.CurrentBedID]
			}
		}
	}
	return nil
}

// publish is best-effort; a broker failure never fails the request.
func (s *Service) publish(ctx context.Context, eventType string, c *Consultation, actor *user.User) {
	ev, err := events.New(eventType, "consultation", c.ExternalID.String(), actor.ExternalID.String(), map[string]interface{}{
		"patient":    c.PatientExternalID,
		"facility":   c.FacilityExternalID,
		"suggestion": c.Suggestion,
		"discharged": c.IsDischarged(),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("build event")
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("consultation_id", c.ExternalID.String()).
			Msg("publish event failed")
	}
}
