package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const apptCols = `id, appointment_no, entity_id, pet_id, owner_id, owner_contact, staff_id,
	date, start_minute, duration_minutes, visit_type, status, reason, notes, created_at, updated_at`

func (r *repoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.AppointmentNo, &a.EntityID, &a.PetID, &a.OwnerID, &a.OwnerContact,
		&a.StaffID, &a.Date, &a.StartMinute, &a.DurationMinutes, &a.VisitType, &a.Status,
		&a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.StartTime = MinutesToClock(a.StartMinute)
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()

	// The per-day sequence and the insert share one transaction: the upsert
	// row-locks the (entity, date) counter, serializing concurrent bookings
	// so two same-day inserts never draw the same appointment number. A
	// rollback leaves a gap in the sequence, which is fine.
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		var seq int
		if err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO appointment_counter (entity_id, date, seq) VALUES ($1, $2, 1)
			ON CONFLICT (entity_id, date) DO UPDATE SET seq = appointment_counter.seq + 1
			RETURNING seq`, a.EntityID, a.Date).Scan(&seq); err != nil {
			return err
		}
		a.AppointmentNo = AppointmentNo(a.Date, seq)

		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO appointment (id, appointment_no, entity_id, pet_id, owner_id, owner_contact,
				staff_id, date, start_minute, duration_minutes, visit_type, status, reason, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			a.ID, a.AppointmentNo, a.EntityID, a.PetID, a.OwnerID, a.OwnerContact,
			a.StaffID, a.Date, a.StartMinute, a.DurationMinutes, a.VisitType, a.Status, a.Reason, a.Notes)
		return err
	})
	if isSlotConflict(err) {
		return ErrSlotConflict
	}
	if err != nil {
		return err
	}
	a.StartTime = MinutesToClock(a.StartMinute)
	return nil
}

// isSlotConflict reports whether err is the unique violation raised by the
// partial index guarding one live booking per (staff, date, start). Other
// 23505s on appointment, like appointment_no, are storage faults and must not
// surface as booking conflicts.
func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		pgErr.ConstraintName == "uq_appointment_slot"
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = $3, reason = COALESCE($4, reason), updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM appointment WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return errStaleStatus
	}
	return nil
}

func (r *repoPG) ListForStaffDay(ctx context.Context, staffID uuid.UUID, date time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE staff_id = $1 AND date = $2 AND status <> 'cancelled'
		ORDER BY start_minute ASC`, staffID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE entity_id = $1`
	args := []interface{}{f.EntityID}
	idx := 2

	if f.StaffID != nil {
		where += fmt.Sprintf(` AND staff_id = $%d`, idx)
		args = append(args, *f.StaffID)
		idx++
	}
	if f.PetID != nil {
		where += fmt.Sprintf(` AND pet_id = $%d`, idx)
		args = append(args, *f.PetID)
		idx++
	}
	if f.OwnerID != nil {
		where += fmt.Sprintf(` AND owner_id = $%d`, idx)
		args = append(args, *f.OwnerID)
		idx++
	}
	if f.Date != nil {
		where += fmt.Sprintf(` AND date = $%d`, idx)
		args = append(args, *f.Date)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY date DESC, start_minute ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) MarkNoShows(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = 'no-show', updated_at = NOW()
		WHERE status IN ('scheduled', 'confirmed')
		  AND date + (start_minute * interval '1 minute') < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
