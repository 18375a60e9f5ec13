package consultation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JavidSumra/care-be/internal/platform/db"
	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const consultationFrom = `patient_consultation c
	JOIN patient p ON p.id = c.patient_id
	JOIN facility f ON f.id = c.facility_id
	LEFT JOIN facility pf ON pf.id = p.facility_id
	LEFT JOIN facility rf ON rf.id = c.referred_to_id`

const consultationCols = `c.id, c.external_id, c.patient_id, p.external_id, p.name,
	c.facility_id, f.external_id, f.name,
	c.assigned_to_id, c.current_bed_id, c.suggestion, c.consultation_notes, c.encounter_date,
	c.new_discharge_reason, c.discharge_date, c.discharge_notes, c.referred_to_id, rf.external_id,
	c.death_datetime, c.death_confirmed_doctor, c.created_by_id, c.last_edited_by_id,
	c.created_date, c.modified_date,
	p.is_active, p.facility_id, pf.state_id, pf.district_id`

// Columns maps the access fields onto the consultation query joins.
var Columns = map[predicate.Field]string{
	FieldID:                      "c.id",
	FieldFacility:                "c.facility_id",
	FieldPatientActive:           "p.is_active",
	FieldPatientFacility:         "p.facility_id",
	FieldPatientFacilityState:    "pf.state_id",
	FieldPatientFacilityDistrict: "pf.district_id",
}

func newQuery(pred predicate.Expr) *predicate.Query {
	return predicate.NewQuery(consultationFrom, consultationCols, Columns).
		Add("NOT c.deleted").
		Where(pred).
		OrderBy("c.id DESC")
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.ExternalID, &c.PatientID, &c.PatientExternalID, &c.PatientName,
		&c.FacilityID, &c.FacilityExternalID, &c.FacilityName,
		&c.AssignedToID, &c.CurrentBedID, &c.Suggestion, &c.ConsultationNotes, &c.EncounterDate,
		&c.NewDischargeReason, &c.DischargeDate, &c.DischargeNotes, &c.ReferredToID, &c.ReferredTo,
		&c.DeathDatetime, &c.DeathConfirmedDoctor, &c.CreatedByID, &c.LastEditedByID,
		&c.CreatedDate, &c.ModifiedDate,
		&c.PatientActive, &c.PatientFacilityID, &c.PatientFacilityStateID, &c.PatientFacilityDistrictID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consultation: %w", err)
	}
	return &c, nil
}

func (r *repoPG) List(ctx context.Context, pred predicate.Expr, f Filter, limit, offset int) ([]*Consultation, int, error) {
	q := newQuery(pred)
	if f.PatientExternalID != nil {
		q.Add("p.external_id = $%d", *f.PatientExternalID)
	}
	if f.FacilityID != nil {
		q.Add("c.facility_id = $%d", *f.FacilityID)
	}
	if err := q.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consultations: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	var result []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, c)
	}
	return result, total, rows.Err()
}

func (r *repoPG) get(ctx context.Context, q *predicate.Query) (*Consultation, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	return scanConsultation(r.conn(ctx).QueryRow(ctx, q.FirstSQL(), q.Args()...))
}

func (r *repoPG) Get(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consultation, error) {
	return r.get(ctx, newQuery(pred).Add("c.external_id = $%d", externalID))
}

func (r *repoPG) GetForUpdate(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consultation, error) {
	return r.get(ctx, newQuery(pred).Add("c.external_id = $%d", externalID).ForUpdate("c"))
}

func (r *repoPG) LatestActiveInAssignment(ctx context.Context, assignmentID int64) (*Consultation, error) {
	return r.get(ctx, newQuery(predicate.All()).
		Add("c.current_bed_id = $%d", assignmentID).
		Add("p.is_active"))
}

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_consultation (
			patient_id, facility_id, assigned_to_id, suggestion, consultation_notes,
			encounter_date, created_by_id, last_edited_by_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, external_id, created_date, modified_date`,
		c.PatientID, c.FacilityID, c.AssignedToID, c.Suggestion, c.ConsultationNotes,
		c.EncounterDate, c.CreatedByID,
	).Scan(&c.ID, &c.ExternalID, &c.CreatedDate, &c.ModifiedDate)
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	c.LastEditedByID = c.CreatedByID
	return nil
}

func (r *repoPG) Update(ctx context.Context, c *Consultation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_consultation SET
			assigned_to_id = $2, current_bed_id = $3, suggestion = $4, consultation_notes = $5,
			new_discharge_reason = $6, discharge_date = $7, discharge_notes = $8, referred_to_id = $9,
			death_datetime = $10, death_confirmed_doctor = $11, last_edited_by_id = $12,
			modified_date = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING modified_date`,
		c.ID, c.AssignedToID, c.CurrentBedID, c.Suggestion, c.ConsultationNotes,
		c.NewDischargeReason, c.DischargeDate, c.DischargeNotes, c.ReferredToID,
		c.DeathDatetime, c.DeathConfirmedDoctor, c.LastEditedByID,
	).Scan(&c.ModifiedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update consultation: %w", err)
	}
	return nil
}

func (r *repoPG) GetPatient(ctx context.Context, externalID uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, external_id, name, facility_id, is_active, last_consultation_id
		FROM patient WHERE external_id = $1 AND NOT deleted`, externalID,
	).Scan(&p.ID, &p.ExternalID, &p.Name, &p.FacilityID, &p.IsActive, &p.LastConsultationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

func (r *repoPG) HasOpenConsultation(ctx context.Context, patientID int64) (bool, error) {
	var open bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patient_consultation
			WHERE patient_id = $1 AND discharge_date IS NULL AND NOT deleted
		)`, patientID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("check open consultation: %w", err)
	}
	return open, nil
}

func (r *repoPG) LinkPatient(ctx context.Context, patientID, consultationID, facilityID int64) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET last_consultation_id = $2, facility_id = $3, is_active = TRUE,
			modified_date = NOW()
		WHERE id = $1`, patientID, consultationID, facilityID)
	if err != nil {
		return fmt.Errorf("link patient: %w", err)
	}
	return nil
}

func (r *repoPG) SetPatientActive(ctx context.Context, patientID int64, active bool) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET is_active = $2, modified_date = NOW() WHERE id = $1`, patientID, active)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}
