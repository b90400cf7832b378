package scheduling

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicops/clinic/internal/platform/db"
)

// =========== Slot Repository ===========

type slotRepoPG struct{ db db.Querier }

func NewSlotRepoPG(q db.Querier) SlotRepository { return &slotRepoPG{db: q} }

const slotCols = `id, doctor_id, to_char(slot_date, 'YYYY-MM-DD'), to_char(slot_time, 'HH24:MI'),
	is_booked, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var sl Slot
	err := row.Scan(&sl.ID, &sl.DoctorID, &sl.Date, &sl.Time, &sl.IsBooked, &sl.CreatedAt, &sl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

func (r *slotRepoPG) Create(ctx context.Context, sl *Slot) error {
	if sl.ID == uuid.Nil {
		sl.ID = uuid.New()
	}
	sl.IsBooked = false
	err := r.db.QueryRow(ctx, `
		INSERT INTO availability_slot (id, doctor_id, slot_date, slot_time)
		VALUES ($1, $2, $3::date, $4::time)
		RETURNING created_at, updated_at`,
		sl.ID, sl.DoctorID, sl.Date, sl.Time).Scan(&sl.CreatedAt, &sl.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: doctor %s at %s %s", ErrDuplicateSlot, sl.DoctorID, sl.Date, sl.Time)
	}
	return err
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	sl, err := scanSlot(r.db.QueryRow(ctx, `SELECT `+slotCols+` FROM availability_slot WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	return sl, err
}

func (r *slotRepoPG) Update(ctx context.Context, sl *Slot) error {
	err := r.db.QueryRow(ctx, `
		UPDATE availability_slot SET slot_date = $2::date, slot_time = $3::time, updated_at = NOW()
		WHERE id = $1 AND is_booked = FALSE
		RETURNING doctor_id, is_booked, created_at, updated_at`,
		sl.ID, sl.Date, sl.Time).Scan(&sl.DoctorID, &sl.IsBooked, &sl.CreatedAt, &sl.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: doctor %s at %s %s", ErrDuplicateSlot, sl.DoctorID, sl.Date, sl.Time)
	case db.IsNoRows(err):
		return r.explainMiss(ctx, sl.ID, ErrSlotBooked)
	}
	return err
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM availability_slot WHERE id = $1 AND is_booked = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, ErrSlotBooked)
	}
	return nil
}

// SetBooked is a compare-and-set on is_booked. Exactly one of any number of
// concurrent callers asking for the same transition sees a row affected.
func (r *slotRepoPG) SetBooked(ctx context.Context, id uuid.UUID, booked bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE availability_slot SET is_booked = $2, updated_at = NOW()
		WHERE id = $1 AND is_booked <> $2`, id, booked)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, ErrConflict)
	}
	return nil
}

// explainMiss turns a conditional write that touched no rows into ErrNotFound
// when the slot is gone, or into the supplied error when it exists.
func (r *slotRepoPG) explainMiss(ctx context.Context, id uuid.UUID, exists error) error {
	var booked bool
	err := r.db.QueryRow(ctx, `SELECT is_booked FROM availability_slot WHERE id = $1`, id).Scan(&booked)
	if db.IsNoRows(err) {
		return fmt.Errorf("%w: slot %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: slot %s (is_booked=%t)", exists, id, booked)
}

func (r *slotRepoPG) List(ctx context.Context, f SlotFilter) iter.Seq2[*Slot, error] {
	return func(yield func(*Slot, error) bool) {
		query := `SELECT ` + slotCols + ` FROM availability_slot WHERE 1=1`
		var args []any
		idx := 1

		if f.DoctorID != uuid.Nil {
			query += fmt.Sprintf(` AND doctor_id = $%d`, idx)
			args = append(args, f.DoctorID)
			idx++
		}
		if f.Date != "" {
			query += fmt.Sprintf(` AND slot_date = $%d::date`, idx)
			args = append(args, f.Date)
			idx++
		}
		if f.OnlyAvailable {
			query += ` AND is_booked = FALSE`
		}
		query += ` ORDER BY slot_date ASC, slot_time ASC`

		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			sl, err := scanSlot(rows)
			if !yield(sl, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ db db.Querier }

func NewAppointmentRepoPG(q db.Querier) AppointmentRepository { return &appointmentRepoPG{db: q} }

const apptCols = `id, patient_id, doctor_id, staff_id, slot_id,
	to_char(appt_date, 'YYYY-MM-DD'), to_char(appt_time, 'HH24:MI'),
	purpose, status, cancellation_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StaffID, &a.SlotID,
		&a.Date, &a.Time, &a.Purpose, &status, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, staff_id, slot_id, appt_date, appt_time, purpose, status)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7::time, $8, $9)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.StaffID, a.SlotID, a.Date, a.Time, a.Purpose, string(a.Status),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		// appointment_active_slot_idx: another live appointment holds the slot.
		return fmt.Errorf("%w: slot %s already has an active appointment", ErrConflict, a.SlotID)
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	return a, err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointment SET status = $3, cancellation_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols,
		id, string(from), string(to), reason))
	if err == nil {
		return a, nil
	}
	if !db.IsNoRows(err) {
		return nil, err
	}

	return nil, r.statusMiss(ctx, id, from)
}

// statusMiss explains why a write conditional on status from matched no row.
func (r *appointmentRepoPG) statusMiss(ctx context.Context, id uuid.UUID, from Status) error {
	var current string
	err := r.db.QueryRow(ctx, `SELECT status FROM appointment WHERE id = $1`, id).Scan(&current)
	if db.IsNoRows(err) {
		return fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: appointment %s is %s, expected %s", ErrConflict, id, current, from)
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID, from Status) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointment WHERE id = $1 AND status = $2`, id, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.statusMiss(ctx, id, from)
	}
	return nil
}

func (r *appointmentRepoPG) HasActiveForSlot(ctx context.Context, slotID, except uuid.UUID) (bool, error) {
	var held bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointment WHERE slot_id = $1 AND id <> $2 AND status <> $3)`,
		slotID, except, string(StatusCancelled)).Scan(&held)
	return held, err
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "doctor_id", doctorID, limit, offset)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "patient_id", patientID, limit, offset)
}

// listBy is only called with column names from this file.
func (r *appointmentRepoPG) listBy(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE `+column+` = $1
		ORDER BY appt_date ASC, appt_time ASC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
