package consent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the position of the EMR write-access gate.
type State string

const (
	StateNotRequested State = "not-requested"
	StateOTPSent      State = "otp-sent"
	StateWriteActive  State = "write-active"
	StateRevoked      State = "revoked"
)

// Scope controls what a verified OTP unlocks.
type Scope string

const (
	// ScopePetDay shares one consent across all of a pet's appointments on
	// the same day, so the owner verifies once per visit day.
	ScopePetDay Scope = "pet-day"
	// ScopeAppointment binds consent to a single appointment.
	ScopeAppointment Scope = "appointment"
)

// Consent maps to the emr_consent table. One row per scope key; resends
// overwrite the pending code in place so at most one code is ever live per
// key. The code itself is never serialized.
type Consent struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	EntityID      string     `db:"entity_id" json:"entity_id"`
	ScopeKey      string     `db:"scope_key" json:"scope_key"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	PetID         uuid.UUID  `db:"pet_id" json:"pet_id"`
	State         State      `db:"state" json:"state"`
	OTPCode       *string    `db:"otp_code" json:"-"`
	OTPExpiresAt  *time.Time `db:"otp_expires_at" json:"otp_expires_at,omitempty"`
	Attempts      int        `db:"attempts" json:"attempts"`
	VerifiedAt    *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// WriteAllowed reports whether the clinician may currently write the record.
func (c *Consent) WriteAllowed() bool {
	return c.State == StateWriteActive
}

// ScopeKeyFor derives the storage key the gate is tracked under.
func ScopeKeyFor(scope Scope, appointmentID, petID uuid.UUID, date time.Time) string {
	if scope == ScopeAppointment {
		return fmt.Sprintf("appt:%s", appointmentID)
	}
	return fmt.Sprintf("pet:%s:%s", petID, date.Format("20060102"))
}
