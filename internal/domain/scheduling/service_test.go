package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vetdesk/opd/internal/domain/staff"
)

// -- Mock Repositories --

type mockRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	// Mirror the partial unique index: one non-cancelled appointment per
	// (staff, date, start).
	for _, b := range m.appts {
		if b.Status != StatusCancelled && b.StaffID == a.StaffID &&
			b.Date.Equal(a.Date) && b.StartMinute == a.StartMinute {
			return ErrSlotConflict
		}
	}
	a.ID = uuid.New()
	seq := 1
	for _, b := range m.appts {
		if b.EntityID == a.EntityID && b.Date.Equal(a.Date) {
			seq++
		}
	}
	a.AppointmentNo = AppointmentNo(a.Date, seq)
	a.CreatedAt = time.Now()
	a.UpdatedAt = time.Now()
	a.StartTime = MinutesToClock(a.StartMinute)
	m.appts[a.ID] = a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, reason *string) error {
	a, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != from {
		return errStaleStatus
	}
	a.Status = to
	if reason != nil {
		a.Reason = reason
	}
	a.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepo) ListForStaffDay(_ context.Context, staffID uuid.UUID, date time.Time) ([]*Appointment, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if a.StaffID == staffID && a.Date.Equal(date) && a.Status != StatusCancelled {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if a.EntityID != f.EntityID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		result = append(result, a)
	}
	return result, len(result), nil
}

func (m *mockRepo) MarkNoShows(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for _, a := range m.appts {
		if (a.Status == StatusScheduled || a.Status == StatusConfirmed) && a.StartsAt().Before(cutoff) {
			a.Status = StatusNoShow
			n++
		}
	}
	return n, nil
}

type mockStaffDir struct {
	assignments map[uuid.UUID]*staff.Assignment
}

func (m *mockStaffDir) GetAssignment(_ context.Context, id uuid.UUID) (*staff.Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return nil, staff.ErrNotFound
	}
	return a, nil
}

type mockRevoker struct {
	revoked []uuid.UUID
	fail    bool
}

func (m *mockRevoker) RevokeForAppointment(_ context.Context, id uuid.UUID) error {
	if m.fail {
		return errors.New("consent store down")
	}
	m.revoked = append(m.revoked, id)
	return nil
}

type sentMessage struct {
	TemplateID string
	Recipient  string
	Data       map[string]string
}

type mockNotifier struct {
	sent []sentMessage
}

func (m *mockNotifier) SendTemplate(_ context.Context, templateID string, data map[string]string, recipient string) error {
	m.sent = append(m.sent, sentMessage{TemplateID: templateID, Recipient: recipient, Data: data})
	return nil
}

// -- Fixtures --

var testToday = time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *mockRepo, uuid.UUID) {
	t.Helper()
	repo := newMockRepo()
	staffID := uuid.New()
	dir := &mockStaffDir{assignments: map[uuid.UUID]*staff.Assignment{
		staffID: {ID: staffID, EntityID: "clinic-1", FullName: "Dr. Rao", SlotDurationMinutes: 15, Active: true},
	}}
	svc := NewService(repo, dir, testHours, zerolog.Nop())
	svc.SetClock(func() time.Time { return testToday })
	return svc, repo, staffID
}

func contact(s string) *string { return &s }

func book(t *testing.T, svc *Service, staffID uuid.UUID, date time.Time, startMinute int) *Appointment {
	t.Helper()
	a, err := svc.Book(context.Background(), BookRequest{
		StaffID:     staffID,
		Date:        date,
		StartMinute: startMinute,
		PetID:       uuid.New(),
		OwnerID:     uuid.New(),
		EntityID:    "clinic-1",
		VisitType:   "consultation",
	})
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	return a
}

// -- Tests --

func TestBook_CreatesScheduledAppointment(t *testing.T) {
	svc, _, staffID := newTestService(t)

	a := book(t, svc, staffID, testToday, 9*60)
	if a.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", a.Status)
	}
	if a.DurationMinutes != 15 {
		t.Errorf("expected duration inherited from staff (15), got %d", a.DurationMinutes)
	}
	if a.AppointmentNo != "OPD-20260902-0001" {
		t.Errorf("unexpected appointment number: %s", a.AppointmentNo)
	}
}

func TestBook_SlotConflict(t *testing.T) {
	svc, _, staffID := newTestService(t)

	book(t, svc, staffID, testToday, 9*60)
	_, err := svc.Book(context.Background(), BookRequest{
		StaffID:     staffID,
		Date:        testToday,
		StartMinute: 9 * 60,
		PetID:       uuid.New(),
		OwnerID:     uuid.New(),
		EntityID:    "clinic-1",
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
}

func TestBook_Validation(t *testing.T) {
	svc, _, staffID := newTestService(t)
	base := BookRequest{
		StaffID: staffID, Date: testToday, StartMinute: 9 * 60,
		PetID: uuid.New(), OwnerID: uuid.New(), EntityID: "clinic-1",
	}

	past := base
	past.Date = testToday.AddDate(0, 0, -1)
	if _, err := svc.Book(context.Background(), past); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for past date, got %v", err)
	}

	offGrid := base
	offGrid.StartMinute = 9*60 + 7
	if _, err := svc.Book(context.Background(), offGrid); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for off-grid time, got %v", err)
	}

	unknownStaff := base
	unknownStaff.StaffID = uuid.New()
	if _, err := svc.Book(context.Background(), unknownStaff); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown staff, got %v", err)
	}

	noPet := base
	noPet.PetID = uuid.Nil
	if _, err := svc.Book(context.Background(), noPet); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for missing pet, got %v", err)
	}
}

func TestBook_InactiveStaffRejected(t *testing.T) {
	repo := newMockRepo()
	staffID := uuid.New()
	dir := &mockStaffDir{assignments: map[uuid.UUID]*staff.Assignment{
		staffID: {ID: staffID, EntityID: "clinic-1", FullName: "Dr. Rao", SlotDurationMinutes: 15, Active: false},
	}}
	svc := NewService(repo, dir, testHours, zerolog.Nop())
	svc.SetClock(func() time.Time { return testToday })

	_, err := svc.Book(context.Background(), BookRequest{
		StaffID: staffID, Date: testToday, StartMinute: 9 * 60,
		PetID: uuid.New(), OwnerID: uuid.New(), EntityID: "clinic-1",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for inactive staff, got %v", err)
	}
}

func TestAvailableSlots_BookedSlotHidden(t *testing.T) {
	svc, _, staffID := newTestService(t)

	book(t, svc, staffID, testToday, 9*60)

	slots, err := svc.AvailableSlots(context.Background(), staffID, testToday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots[0].StartTime != "09:00" || slots[0].Available {
		t.Errorf("expected 09:00 unavailable, got %+v", slots[0])
	}
	if slots[1].StartTime != "09:15" || !slots[1].Available {
		t.Errorf("expected 09:15 available, got %+v", slots[1])
	}
}

func TestAvailableSlots_CancelFreesSlot(t *testing.T) {
	svc, _, staffID := newTestService(t)

	a := book(t, svc, staffID, testToday, 9*60)
	if _, err := svc.Cancel(context.Background(), a.ID, nil); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	slots, err := svc.AvailableSlots(context.Background(), staffID, testToday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slots[0].Available {
		t.Error("expected 09:00 available again after cancellation")
	}

	// And the slot can be rebooked.
	book(t, svc, staffID, testToday, 9*60)
}

func TestAvailableSlots_PastDateRejected(t *testing.T) {
	svc, _, staffID := newTestService(t)
	_, err := svc.AvailableSlots(context.Background(), staffID, testToday.AddDate(0, 0, -1))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestLifecycle_FullVisit(t *testing.T) {
	svc, _, staffID := newTestService(t)
	revoker := &mockRevoker{}
	svc.SetConsentRevoker(revoker)

	a := book(t, svc, staffID, testToday, 9*60)

	if _, err := svc.Confirm(context.Background(), a.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if _, err := svc.StartConsultation(context.Background(), a.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	got, err := svc.EndConsultation(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if len(revoker.revoked) != 1 || revoker.revoked[0] != a.ID {
		t.Errorf("expected consent revoked for %s, got %v", a.ID, revoker.revoked)
	}
}

func TestStartConsultation_FutureDateRejected(t *testing.T) {
	svc, _, staffID := newTestService(t)

	a := book(t, svc, staffID, testToday.AddDate(0, 0, 1), 9*60)
	_, err := svc.StartConsultation(context.Background(), a.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for future visit, got %v", err)
	}
}

// raceRepo injects a concurrent transition between applyEvent's read and its
// conditional write.
type raceRepo struct {
	*mockRepo
	interleave func()
}

func (r *raceRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) error {
	if r.interleave != nil {
		fn := r.interleave
		r.interleave = nil
		fn()
	}
	return r.mockRepo.UpdateStatus(ctx, id, from, to, reason)
}

func TestStartConsultation_LosesRaceToCancel(t *testing.T) {
	repo := newMockRepo()
	race := &raceRepo{mockRepo: repo}
	staffID := uuid.New()
	dir := &mockStaffDir{assignments: map[uuid.UUID]*staff.Assignment{
		staffID: {ID: staffID, EntityID: "clinic-1", FullName: "Dr. Rao", SlotDurationMinutes: 15, Active: true},
	}}
	svc := NewService(race, dir, testHours, zerolog.Nop())
	svc.SetClock(func() time.Time { return testToday })

	a := book(t, svc, staffID, testToday, 9*60)

	// A cancel lands after StartConsultation reads the row but before it
	// writes; the conditional write must miss and the event be re-judged
	// against the cancelled status.
	race.interleave = func() {
		repo.appts[a.ID].Status = StatusCancelled
	}
	_, err := svc.StartConsultation(context.Background(), a.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if repo.appts[a.ID].Status != StatusCancelled {
		t.Errorf("cancelled appointment must stay cancelled, got %s", repo.appts[a.ID].Status)
	}
}

func TestApplyEvent_RetriesAfterConcurrentCompatibleUpdate(t *testing.T) {
	repo := newMockRepo()
	race := &raceRepo{mockRepo: repo}
	staffID := uuid.New()
	dir := &mockStaffDir{assignments: map[uuid.UUID]*staff.Assignment{
		staffID: {ID: staffID, EntityID: "clinic-1", FullName: "Dr. Rao", SlotDurationMinutes: 15, Active: true},
	}}
	svc := NewService(race, dir, testHours, zerolog.Nop())
	svc.SetClock(func() time.Time { return testToday })

	a := book(t, svc, staffID, testToday, 9*60)

	// A concurrent confirm wins the first write; start is still legal from
	// confirmed, so the retry goes through.
	race.interleave = func() {
		repo.appts[a.ID].Status = StatusConfirmed
	}
	got, err := svc.StartConsultation(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("expected in-progress, got %s", got.Status)
	}
}

func TestCancel_CompletedRejected(t *testing.T) {
	svc, _, staffID := newTestService(t)

	a := book(t, svc, staffID, testToday, 9*60)
	_, _ = svc.StartConsultation(context.Background(), a.ID)
	_, _ = svc.EndConsultation(context.Background(), a.ID)

	_, err := svc.Cancel(context.Background(), a.ID, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling completed, got %v", err)
	}
}

func TestEndConsultation_RevokeFailureAbortsCompletion(t *testing.T) {
	svc, repo, staffID := newTestService(t)
	revoker := &mockRevoker{fail: true}
	svc.SetConsentRevoker(revoker)

	a := book(t, svc, staffID, testToday, 9*60)
	_, _ = svc.StartConsultation(context.Background(), a.ID)

	if _, err := svc.EndConsultation(context.Background(), a.ID); err == nil {
		t.Fatal("expected error when consent revoke fails")
	}
	if repo.appts[a.ID].Status != StatusInProgress {
		t.Errorf("appointment must stay in-progress until the gate is revoked, got %s",
			repo.appts[a.ID].Status)
	}

	// The revoker recovers; completion now succeeds and closes the gate.
	revoker.fail = false
	got, err := svc.EndConsultation(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if len(revoker.revoked) != 1 || revoker.revoked[0] != a.ID {
		t.Errorf("expected consent revoked for %s, got %v", a.ID, revoker.revoked)
	}
}

func TestMarkNoShow_BeforeStartRejected(t *testing.T) {
	svc, _, staffID := newTestService(t)

	// 14:00 today; the test clock reads 10:00.
	a := book(t, svc, staffID, testToday, 14*60)
	_, err := svc.MarkNoShow(context.Background(), a.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition before start time, got %v", err)
	}

	// 09:00 has passed.
	b := book(t, svc, staffID, testToday, 9*60)
	got, err := svc.MarkNoShow(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusNoShow {
		t.Errorf("expected no-show, got %s", got.Status)
	}
}

func TestSweepNoShows(t *testing.T) {
	svc, repo, staffID := newTestService(t)

	stale := book(t, svc, staffID, testToday, 9*60)        // 09:00, clock is 10:00
	upcoming := book(t, svc, staffID, testToday, 14*60)    // 14:00
	inProgress := book(t, svc, staffID, testToday, 9*60+15) // started
	_, _ = svc.StartConsultation(context.Background(), inProgress.ID)

	n, err := svc.SweepNoShows(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept appointment, got %d", n)
	}
	if repo.appts[stale.ID].Status != StatusNoShow {
		t.Errorf("expected stale appointment no-show, got %s", repo.appts[stale.ID].Status)
	}
	if repo.appts[upcoming.ID].Status != StatusScheduled {
		t.Errorf("expected upcoming appointment untouched, got %s", repo.appts[upcoming.ID].Status)
	}
	if repo.appts[inProgress.ID].Status != StatusInProgress {
		t.Errorf("expected in-progress appointment untouched, got %s", repo.appts[inProgress.ID].Status)
	}
}

func TestBook_SendsNotification(t *testing.T) {
	svc, _, staffID := newTestService(t)
	notifier := &mockNotifier{}
	svc.SetNotifier(notifier)

	_, err := svc.Book(context.Background(), BookRequest{
		StaffID:      staffID,
		Date:         testToday,
		StartMinute:  9 * 60,
		PetID:        uuid.New(),
		OwnerID:      uuid.New(),
		OwnerContact: contact("+919800000000"),
		EntityID:     "clinic-1",
	})
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
	}
	if notifier.sent[0].TemplateID != "appointment-booked" {
		t.Errorf("unexpected template: %s", notifier.sent[0].TemplateID)
	}
	if notifier.sent[0].Recipient != "+919800000000" {
		t.Errorf("unexpected recipient: %s", notifier.sent[0].Recipient)
	}
}

func TestBook_NoContactNoNotification(t *testing.T) {
	svc, _, staffID := newTestService(t)
	notifier := &mockNotifier{}
	svc.SetNotifier(notifier)

	book(t, svc, staffID, testToday, 9*60)
	if len(notifier.sent) != 0 {
		t.Errorf("expected no notifications without contact, got %d", len(notifier.sent))
	}
}
