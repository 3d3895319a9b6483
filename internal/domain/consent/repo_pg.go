package consent

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetdesk/opd/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const consentCols = `id, entity_id, scope_key, appointment_id, pet_id, state,
	otp_code, otp_expires_at, attempts, verified_at, revoked_at, created_at, updated_at`

func (r *repoPG) scanConsent(row pgx.Row) (*Consent, error) {
	var c Consent
	err := row.Scan(&c.ID, &c.EntityID, &c.ScopeKey, &c.AppointmentID, &c.PetID, &c.State,
		&c.OTPCode, &c.OTPExpiresAt, &c.Attempts, &c.VerifiedAt, &c.RevokedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) GetByScopeKey(ctx context.Context, scopeKey string) (*Consent, error) {
	return r.scanConsent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consentCols+` FROM emr_consent WHERE scope_key = $1`, scopeKey))
}

func (r *repoPG) Upsert(ctx context.Context, c *Consent) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO emr_consent (id, entity_id, scope_key, appointment_id, pet_id, state,
			otp_code, otp_expires_at, attempts, verified_at, revoked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (scope_key) DO UPDATE SET
			appointment_id = EXCLUDED.appointment_id,
			state = EXCLUDED.state,
			otp_code = EXCLUDED.otp_code,
			otp_expires_at = EXCLUDED.otp_expires_at,
			attempts = EXCLUDED.attempts,
			verified_at = EXCLUDED.verified_at,
			revoked_at = EXCLUDED.revoked_at,
			updated_at = NOW()`,
		c.ID, c.EntityID, c.ScopeKey, c.AppointmentID, c.PetID, c.State,
		c.OTPCode, c.OTPExpiresAt, c.Attempts, c.VerifiedAt, c.RevokedAt)
	return err
}
