package scheduling

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsSlotConflict(t *testing.T) {
	slot := &pgconn.PgError{Code: "23505", ConstraintName: "uq_appointment_slot"}
	if !isSlotConflict(slot) {
		t.Error("slot index violation should map to a booking conflict")
	}
	if !isSlotConflict(fmt.Errorf("insert: %w", slot)) {
		t.Error("wrapped slot violation should still map to a booking conflict")
	}

	// A duplicate appointment number is an allocator fault, not a conflict
	// the booker caused.
	number := &pgconn.PgError{Code: "23505", ConstraintName: "appointment_appointment_no_key"}
	if isSlotConflict(number) {
		t.Error("appointment_no violation must not map to a booking conflict")
	}
	if isSlotConflict(errors.New("connection reset")) {
		t.Error("plain error must not map to a booking conflict")
	}
}
