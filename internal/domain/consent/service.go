package consent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vetdesk/opd/internal/domain/scheduling"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNotFound            = errors.New("consent not found")
	ErrInvalidOTP          = errors.New("verification code does not match")
	ErrOTPExpired          = errors.New("verification code has expired")
	ErrOTPLocked           = errors.New("too many failed attempts, request a new code")
	ErrUpstreamUnavailable = errors.New("notification delivery unavailable")
)

// AppointmentSource resolves appointments. Satisfied by scheduling.Service.
type AppointmentSource interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

// OTPDispatcher delivers codes to pet owners. Satisfied by
// notification.NotificationManager.
type OTPDispatcher interface {
	SendOTP(ctx context.Context, recipient, petName, code string, ttl time.Duration) error
}

// Config tunes the gate.
type Config struct {
	Scope       Scope
	OTPLength   int
	OTPTTL      time.Duration
	MaxAttempts int
}

// keyLocks serializes OTP operations per scope key, so a verify can never
// race ahead of a resend that invalidated the prior code.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

type Service struct {
	repo       Repository
	appts      AppointmentSource
	dispatcher OTPDispatcher
	cfg        Config
	locks      *keyLocks
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, appts AppointmentSource, dispatcher OTPDispatcher, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		appts:      appts,
		dispatcher: dispatcher,
		cfg:        cfg,
		locks:      newKeyLocks(),
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// scopeKey resolves the gate key for an appointment.
func (s *Service) scopeKey(a *scheduling.Appointment) string {
	return ScopeKeyFor(s.cfg.Scope, a.ID, a.PetID, a.Date)
}

// RequestOTP generates a fresh single-use code for an appointment's consent
// gate and delivers it to the owner. Calling it again before verification
// replaces the pending code: there is never more than one live code per key.
// If delivery fails, no code is stored — the gate fails closed.
func (s *Service) RequestOTP(ctx context.Context, appointmentID uuid.UUID) (*Consent, error) {
	a, err := s.appts.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown appointment %s", ErrInvalidRequest, appointmentID)
		}
		return nil, err
	}
	if scheduling.IsTerminal(a.Status) {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidRequest, a.Status)
	}
	if a.OwnerContact == nil || *a.OwnerContact == "" {
		return nil, fmt.Errorf("%w: no owner contact on file", ErrInvalidRequest)
	}

	key := s.scopeKey(a)
	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	code, err := GenerateCode(s.cfg.OTPLength)
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.SendOTP(ctx, *a.OwnerContact, a.PetID.String(), code, s.cfg.OTPTTL); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appointmentID.String()).
			Msg("otp delivery failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	expires := s.now().Add(s.cfg.OTPTTL)
	c, err := s.repo.GetByScopeKey(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if c == nil {
		c = &Consent{
			EntityID: a.EntityID,
			ScopeKey: key,
			PetID:    a.PetID,
		}
	}
	c.AppointmentID = appointmentID
	c.State = StateOTPSent
	c.OTPCode = &code
	c.OTPExpiresAt = &expires
	c.Attempts = 0
	c.VerifiedAt = nil
	c.RevokedAt = nil

	if err := s.repo.Upsert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// VerifyOTP checks a submitted code against the pending one. On success the
// gate opens immediately: verification implies write access. A repeat verify
// on an already-open gate is a no-op and never re-triggers delivery. Each
// mismatch burns one attempt; at MaxAttempts the code locks until a fresh
// RequestOTP.
func (s *Service) VerifyOTP(ctx context.Context, appointmentID uuid.UUID, code string) (*Consent, error) {
	a, err := s.appts.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown appointment %s", ErrInvalidRequest, appointmentID)
		}
		return nil, err
	}

	key := s.scopeKey(a)
	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.repo.GetByScopeKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if c.State == StateWriteActive {
		return c, nil
	}
	if c.State != StateOTPSent || c.OTPCode == nil {
		return nil, fmt.Errorf("%w: no code is pending", ErrInvalidRequest)
	}
	if c.Attempts >= s.cfg.MaxAttempts {
		return nil, ErrOTPLocked
	}
	if c.OTPExpiresAt != nil && s.now().After(*c.OTPExpiresAt) {
		return nil, ErrOTPExpired
	}

	if code != *c.OTPCode {
		c.Attempts++
		if err := s.repo.Upsert(ctx, c); err != nil {
			return nil, err
		}
		if c.Attempts >= s.cfg.MaxAttempts {
			return nil, ErrOTPLocked
		}
		return nil, ErrInvalidOTP
	}

	now := s.now()
	c.State = StateWriteActive
	c.VerifiedAt = &now
	if err := s.repo.Upsert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RevokeForAppointment closes the gate for an appointment's scope key.
// Idempotent: revoking an absent or already-revoked gate is a no-op.
func (s *Service) RevokeForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	a, err := s.appts.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			return nil
		}
		return err
	}

	key := s.scopeKey(a)
	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.repo.GetByScopeKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.State == StateRevoked {
		return nil
	}

	now := s.now()
	c.State = StateRevoked
	c.OTPCode = nil
	c.OTPExpiresAt = nil
	c.RevokedAt = &now
	return s.repo.Upsert(ctx, c)
}

// Status reports the gate state for an appointment. An appointment with no
// consent row is simply not-requested.
func (s *Service) Status(ctx context.Context, appointmentID uuid.UUID) (*Consent, error) {
	a, err := s.appts.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown appointment %s", ErrInvalidRequest, appointmentID)
		}
		return nil, err
	}

	c, err := s.repo.GetByScopeKey(ctx, s.scopeKey(a))
	if errors.Is(err, ErrNotFound) {
		return &Consent{
			EntityID:      a.EntityID,
			ScopeKey:      s.scopeKey(a),
			AppointmentID: appointmentID,
			PetID:         a.PetID,
			State:         StateNotRequested,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
