package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/domain/consultation"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/db"
	"github.com/JavidSumra/care-be/internal/platform/events"
	"github.com/JavidSumra/care-be/internal/platform/metrics"
	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

// Scope resolves the consultation a consent route names and the predicate
// over its consents. consultation.Service implements it.
type Scope interface {
	ConsentScope(ctx context.Context, u *user.User, consultationExternalID uuid.UUID) (predicate.Expr, *consultation.Consultation, error)
}

type Service struct {
	repo   Repository
	scope  Scope
	tx     db.TxRunner
	logger zerolog.Logger

	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(repo Repository, scope Scope, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		scope:     scope,
		tx:        tx,
		logger:    logger,
		publisher: events.Nop{},
		now:       time.Now,
	}
}

func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.publisher = p
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) List(ctx context.Context, u *user.User, consultationID uuid.UUID, archived *bool, limit, offset int) ([]*Consent, int, error) {
	pred, _, err := s.scope.ConsentScope(ctx, u, consultationID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, pred, archived, limit, offset)
}

func (s *Service) Get(ctx context.Context, u *user.User, consultationID, externalID uuid.UUID) (*Consent, error) {
	pred, _, err := s.scope.ConsentScope(ctx, u, consultationID)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, pred, externalID)
}

// Create records a consent and archives the consents of the same type it
// supersedes, in one transaction.
func (s *Service) Create(ctx context.Context, u *user.User, consultationID uuid.UUID, req *CreateRequest) (*Consent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	_, cons, err := s.scope.ConsentScope(ctx, u, consultationID)
	if err != nil {
		return nil, err
	}

	c := &Consent{
		ConsultationID:         cons.ID,
		ConsultationExternalID: cons.ExternalID,
		Type:                   req.Type,
		PatientCodeStatus:      req.PatientCodeStatus,
		CreatedByID:            &u.ID,
		CreatedBy:              &u.ExternalID,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		archived, err := s.repo.ArchiveActive(ctx, cons.ID, req.Type, u.ID, s.now())
		if err != nil {
			return err
		}
		if archived > 0 {
			s.logger.Debug().Int64("archived", archived).Str("type", req.Type.String()).
				Str("consultation_id", cons.ExternalID.String()).Msg("superseded consents archived")
		}
		return s.repo.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ConsentCreated(c.Type.String())
	s.publish(ctx, events.ConsentCreated, c, u)
	return c, nil
}

func (s *Service) Update(ctx context.Context, u *user.User, consultationID, externalID uuid.UUID, req *UpdateRequest) (*Consent, error) {
	pred, _, err := s.scope.ConsentScope(ctx, u, consultationID)
	if err != nil {
		return nil, err
	}

	var c *Consent
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.GetForUpdate(ctx, pred, externalID); err != nil {
			return err
		}
		if c.Archived {
			return ErrArchived
		}
		t, status := req.merged(c)
		if err := validateFields(t, status); err != nil {
			return err
		}
		c.Type, c.PatientCodeStatus = t, status
		if req.Archived != nil && *req.Archived {
			at := s.now()
			c.Archived = true
			c.ArchivedByID = &u.ID
			c.ArchivedBy = &u.ExternalID
			c.ArchivedDate = &at
		}
		return s.repo.Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ConsentUpdated, c, u)
	return c, nil
}

func (s *Service) publish(ctx context.Context, eventType string, c *Consent, actor *user.User) {
	ev, err := events.New(eventType, "consent", c.ExternalID.String(), actor.ExternalID.String(), map[string]interface{}{
		"consultation": c.ConsultationExternalID,
		"type":         c.Type.String(),
		"archived":     c.Archived,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("build event")
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("consent_id", c.ExternalID.String()).
			Msg("publish event failed")
	}
}
