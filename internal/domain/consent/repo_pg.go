package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JavidSumra/care-be/internal/domain/consultation"
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

const consentFrom = `patient_consent pc
	JOIN patient_consultation c ON c.id = pc.consultation_id
	LEFT JOIN users ab ON ab.id = pc.archived_by_id
	LEFT JOIN users cb ON cb.id = pc.created_by_id`

const consentCols = `pc.id, pc.external_id, pc.consultation_id, c.external_id, pc.type,
	pc.patient_code_status, pc.archived, pc.archived_by_id, ab.external_id, pc.archived_date,
	pc.created_by_id, cb.external_id, pc.created_date, pc.modified_date`

var Columns = map[predicate.Field]string{
	consultation.FieldConsentConsultation: "pc.consultation_id",
}

func newQuery(pred predicate.Expr) *predicate.Query {
	return predicate.NewQuery(consentFrom, consentCols, Columns).
		Add("NOT pc.deleted").
		Where(pred).
		OrderBy("pc.id DESC")
}

func scanConsent(row pgx.Row) (*Consent, error) {
	var c Consent
	err := row.Scan(&c.ID, &c.ExternalID, &c.ConsultationID, &c.ConsultationExternalID, &c.Type,
		&c.PatientCodeStatus, &c.Archived, &c.ArchivedByID, &c.ArchivedBy, &c.ArchivedDate,
		&c.CreatedByID, &c.CreatedBy, &c.CreatedDate, &c.ModifiedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent: %w", err)
	}
	return &c, nil
}

func (r *repoPG) List(ctx context.Context, pred predicate.Expr, archived *bool, limit, offset int) ([]*Consent, int, error) {
	q := newQuery(pred)
	if archived != nil {
		q.Add("pc.archived = $%d", *archived)
	}
	if err := q.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count consents: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var result []*Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, c)
	}
	return result, total, rows.Err()
}

func (r *repoPG) get(ctx context.Context, q *predicate.Query) (*Consent, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	return scanConsent(r.conn(ctx).QueryRow(ctx, q.FirstSQL(), q.Args()...))
}

func (r *repoPG) Get(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consent, error) {
	return r.get(ctx, newQuery(pred).Add("pc.external_id = $%d", externalID))
}

func (r *repoPG) GetForUpdate(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consent, error) {
	return r.get(ctx, newQuery(pred).Add("pc.external_id = $%d", externalID).ForUpdate("pc"))
}

func (r *repoPG) Create(ctx context.Context, c *Consent) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_consent (consultation_id, type, patient_code_status, created_by_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, external_id, created_date, modified_date`,
		c.ConsultationID, c.Type, c.PatientCodeStatus, c.CreatedByID,
	).Scan(&c.ID, &c.ExternalID, &c.CreatedDate, &c.ModifiedDate)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, c *Consent) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_consent SET
			type = $2, patient_code_status = $3, archived = $4, archived_by_id = $5,
			archived_date = $6, modified_date = NOW()
		WHERE id = $1 AND NOT deleted
		RETURNING modified_date`,
		c.ID, c.Type, c.PatientCodeStatus, c.Archived, c.ArchivedByID, c.ArchivedDate,
	).Scan(&c.ModifiedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	return nil
}

func (r *repoPG) ArchiveActive(ctx context.Context, consultationID int64, t Type, by int64, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_consent SET archived = TRUE, archived_by_id = $3, archived_date = $4,
			modified_date = NOW()
		WHERE consultation_id = $1 AND type = $2 AND NOT archived AND NOT deleted`,
		consultationID, t, by, at)
	if err != nil {
		return 0, fmt.Errorf("archive consents: %w", err)
	}
	return tag.RowsAffected(), nil
}
