package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rollcall/internal/geo"
	"rollcall/internal/piicrypt"
	"rollcall/internal/session"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var accra = geo.Coordinate{Lat: 5.6037, Lng: -0.1870}

// newTestService builds a service over an in-memory store with a controllable
// clock, returning the service and a setter for "now".
func newTestService(t *testing.T) (*session.Service, func(time.Time)) {
	t.Helper()
	cipher, err := piicrypt.New(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	now := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	set := func(tm time.Time) {
		mu.Lock()
		defer mu.Unlock()
		now = tm
	}
	return session.NewService(session.NewMemoryStore(), cipher, 10000, clock), set
}

func mustCreate(t *testing.T, svc *session.Service) *session.Session {
	t.Helper()
	sess, err := svc.CreateSession(context.Background(), session.CreateSessionInput{
		OwnerID:    "lect-1",
		ClassName:  "CS101",
		CourseName: "Intro to Computing",
		Date:       "2024-01-10",
		StartTime:  "09:00",
		EndTime:    "10:00",
		Anchor:     accra,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func checkIn(index, device string) session.CheckInInput {
	return session.CheckInInput{
		ClassName:    "CS101",
		Date:         "2024-01-10",
		EndTime:      "10:00",
		StudentName:  "Ama Mensah",
		StudentIndex: index,
		DeviceID:     device,
		Location:     accra,
	}
}

// ── Session creation ─────────────────────────────────────────────────────────

func TestCreateSessionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	base := session.CreateSessionInput{
		OwnerID: "lect-1", ClassName: "CS101", CourseName: "Intro",
		Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Anchor: accra,
	}

	tests := []struct {
		name   string
		mutate func(*session.CreateSessionInput)
	}{
		{"empty class", func(in *session.CreateSessionInput) { in.ClassName = "" }},
		{"empty course", func(in *session.CreateSessionInput) { in.CourseName = "" }},
		{"bad date", func(in *session.CreateSessionInput) { in.Date = "10/01/2024" }},
		{"bad start", func(in *session.CreateSessionInput) { in.StartTime = "9am" }},
		{"start after end", func(in *session.CreateSessionInput) { in.StartTime = "11:00" }},
		{"start equals end", func(in *session.CreateSessionInput) { in.StartTime = "10:00" }},
		{"bad anchor", func(in *session.CreateSessionInput) { in.Anchor.Lat = 95 }},
		{"missing anchor", func(in *session.CreateSessionInput) { in.Anchor = geo.Coordinate{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			if _, err := svc.CreateSession(context.Background(), in); session.CodeOf(err) != session.CodeValidation {
				t.Errorf("CreateSession error = %v, want validation", err)
			}
		})
	}

	sess, err := svc.CreateSession(context.Background(), base)
	if err != nil {
		t.Fatalf("valid CreateSession: %v", err)
	}
	if sess.Status != session.StatusActive {
		t.Errorf("new session status = %s, want Active", sess.Status)
	}
	if sess.ID == "" {
		t.Error("new session has no id")
	}
	if len(sess.CheckIns) != 0 {
		t.Errorf("new session has %d check-ins", len(sess.CheckIns))
	}
}

// ── Time window ──────────────────────────────────────────────────────────────

func TestCheckInTimeWindow(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want session.Code
	}{
		{"before start", time.Date(2024, 1, 10, 8, 59, 0, 0, time.UTC), session.CodeTooEarly},
		{"at start", time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), ""},
		{"mid window", time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC), ""},
		{"at end", time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC), session.CodeTooLate},
		{"after end", time.Date(2024, 1, 10, 10, 5, 0, 0, time.UTC), session.CodeTooLate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, setNow := newTestService(t)
			mustCreate(t, svc)
			setNow(tt.now)
			_, err := svc.SubmitCheckIn(context.Background(), checkIn("UG1001", "dev-a"))
			if session.CodeOf(err) != tt.want {
				t.Errorf("SubmitCheckIn at %s: error = %v, want code %q", tt.now, err, tt.want)
			}
		})
	}
}

// ── Proximity ────────────────────────────────────────────────────────────────

func TestCheckInProximity(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)

	in := checkIn("UG1001", "dev-a")
	in.Location = geo.Coordinate{Lat: 5.6037, Lng: -0.2870} // ~11 km away
	_, err := svc.SubmitCheckIn(context.Background(), in)
	if session.CodeOf(err) != session.CodeOutOfRange {
		t.Fatalf("far check-in error = %v, want out-of-range", err)
	}
	var api *session.APIError
	if !errors.As(err, &api) {
		t.Fatalf("error %v is not an APIError", err)
	}
	if api.DistanceM < 10000 {
		t.Errorf("out-of-range distance = %v, want > 10000", api.DistanceM)
	}

	in.Location = accra
	if _, err := svc.SubmitCheckIn(context.Background(), in); err != nil {
		t.Fatalf("near check-in: %v", err)
	}
}

func TestCheckInRequiresLocation(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)

	// Omitted location fields decode to (0,0); without this guard such a
	// check-in would measure distance zero against any zero anchor and the
	// proximity check would verify nothing.
	in := checkIn("UG1001", "dev-a")
	in.Location = geo.Coordinate{}
	if _, err := svc.SubmitCheckIn(context.Background(), in); session.CodeOf(err) != session.CodeValidation {
		t.Errorf("location-less check-in error = %v, want validation", err)
	}
}

func TestCheckInRejectsInvalidCoordinates(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)
	in := checkIn("UG1001", "dev-a")
	in.Location = geo.Coordinate{Lat: 123, Lng: 0}
	if _, err := svc.SubmitCheckIn(context.Background(), in); session.CodeOf(err) != session.CodeValidation {
		t.Errorf("invalid coordinate error = %v, want validation", err)
	}
}

// ── Duplicate suppression ────────────────────────────────────────────────────

func TestDuplicateByStudentIndex(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitCheckIn(ctx, checkIn("UG1001", "dev-a")); err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	// Same index, different device.
	if _, err := svc.SubmitCheckIn(ctx, checkIn("UG1001", "dev-b")); session.CodeOf(err) != session.CodeDuplicate {
		t.Errorf("same-index check-in error = %v, want duplicate", err)
	}
}

func TestDuplicateByDevice(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitCheckIn(ctx, checkIn("UG1001", "dev-a")); err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	// Different index, same device.
	if _, err := svc.SubmitCheckIn(ctx, checkIn("UG2002", "dev-a")); session.CodeOf(err) != session.CodeDuplicate {
		t.Errorf("same-device check-in error = %v, want duplicate", err)
	}
	// Different index, no device id at all: allowed.
	if _, err := svc.SubmitCheckIn(ctx, checkIn("UG3003", "")); err != nil {
		t.Errorf("deviceless check-in: %v", err)
	}
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SubmitCheckIn(context.Background(), checkIn("UG1001", "dev-a"))
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else if session.CodeOf(err) != session.CodeDuplicate {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Errorf("%d submissions accepted, want exactly 1", accepted)
	}
}

// cancelOnLookupStore flips the session to Cancelled right after the target
// lookup succeeds, modeling a cancel (or sweep) that commits between lookup
// and append.
type cancelOnLookupStore struct {
	*session.MemoryStore
	ownerID string
}

func (s *cancelOnLookupStore) FindActiveTarget(ctx context.Context, className, date, endTime string) (*session.Session, error) {
	sess, err := s.MemoryStore.FindActiveTarget(ctx, className, date, endTime)
	if sess != nil {
		if cerr := s.MemoryStore.Cancel(ctx, s.ownerID, sess.ID); cerr != nil {
			return nil, cerr
		}
	}
	return sess, err
}

func TestCheckInRejectedWhenSessionFlipsBeforeCommit(t *testing.T) {
	cipher, err := piicrypt.New(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	store := &cancelOnLookupStore{MemoryStore: session.NewMemoryStore(), ownerID: "lect-1"}
	clock := func() time.Time { return time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC) }
	svc := session.NewService(store, cipher, 10000, clock)

	if _, err := svc.CreateSession(context.Background(), session.CreateSessionInput{
		OwnerID: "lect-1", ClassName: "CS101", CourseName: "Intro",
		Date: "2024-01-10", StartTime: "09:00", EndTime: "10:00", Anchor: accra,
	}); err != nil {
		t.Fatal(err)
	}

	// Lookup sees Active, the status flips before the append; the commit's
	// own status re-check must reject, not accept a post-cancel entry.
	_, err = svc.SubmitCheckIn(context.Background(), checkIn("UG1001", "dev-a"))
	if session.CodeOf(err) != session.CodeSessionNotActive {
		t.Fatalf("check-in after mid-pipeline cancel error = %v, want session-not-active", err)
	}

	history, err := svc.ListHistory(context.Background(), "lect-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || len(history[0].CheckIns) != 0 {
		t.Errorf("cancelled session recorded %d check-in(s), want 0", len(history[0].CheckIns))
	}
}

// ── Lookup and lifecycle ─────────────────────────────────────────────────────

func TestCheckInUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)

	in := checkIn("UG1001", "dev-a")
	in.EndTime = "11:00" // wrong target tuple
	if _, err := svc.SubmitCheckIn(context.Background(), in); session.CodeOf(err) != session.CodeSessionNotActive {
		t.Errorf("wrong-tuple check-in error = %v, want session-not-active", err)
	}
}

func TestCancelSession(t *testing.T) {
	svc, _ := newTestService(t)
	sess := mustCreate(t, svc)
	ctx := context.Background()

	if err := svc.CancelSession(ctx, "lect-2", sess.ID); session.CodeOf(err) != session.CodeSessionNotActive {
		t.Errorf("cancel by non-owner error = %v, want session-not-active", err)
	}
	if err := svc.CancelSession(ctx, "lect-1", sess.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// No double-cancel.
	if err := svc.CancelSession(ctx, "lect-1", sess.ID); session.CodeOf(err) != session.CodeSessionNotActive {
		t.Errorf("second cancel error = %v, want session-not-active", err)
	}
	// Cancelled sessions reject check-ins with the same non-leaking outcome.
	if _, err := svc.SubmitCheckIn(ctx, checkIn("UG1001", "dev-a")); session.CodeOf(err) != session.CodeSessionNotActive {
		t.Errorf("check-in after cancel error = %v, want session-not-active", err)
	}
}

func TestExpireDueSessionsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)
	ctx := context.Background()

	early := time.Date(2024, 1, 10, 9, 59, 0, 0, time.UTC)
	if n, err := svc.ExpireDueSessions(ctx, early); err != nil || n != 0 {
		t.Fatalf("premature sweep = %d, %v; want 0, nil", n, err)
	}

	due := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	if n, err := svc.ExpireDueSessions(ctx, due); err != nil || n != 1 {
		t.Fatalf("due sweep = %d, %v; want 1, nil", n, err)
	}
	if n, err := svc.ExpireDueSessions(ctx, due); err != nil || n != 0 {
		t.Fatalf("repeat sweep = %d, %v; want 0, nil", n, err)
	}

	history, err := svc.ListHistory(ctx, "lect-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != session.StatusCompleted {
		t.Errorf("history after sweep = %+v, want one Completed session", history)
	}
}

func TestCancelledSessionsAreNotSwept(t *testing.T) {
	svc, _ := newTestService(t)
	sess := mustCreate(t, svc)
	ctx := context.Background()

	if err := svc.CancelSession(ctx, "lect-1", sess.ID); err != nil {
		t.Fatal(err)
	}
	due := time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC)
	if n, _ := svc.ExpireDueSessions(ctx, due); n != 0 {
		t.Errorf("sweep touched a cancelled session (count=%d)", n)
	}
	history, err := svc.ListHistory(ctx, "lect-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != session.StatusCancelled {
		t.Errorf("history = %+v, want one Cancelled session", history)
	}
}

// ── Read projections ─────────────────────────────────────────────────────────

func TestListActiveDecryptsForOwner(t *testing.T) {
	svc, _ := newTestService(t)
	mustCreate(t, svc)
	ctx := context.Background()

	if _, err := svc.SubmitCheckIn(ctx, checkIn("UG1001", "dev-a")); err != nil {
		t.Fatal(err)
	}

	active, err := svc.ListActive(ctx, "lect-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || len(active[0].CheckIns) != 1 {
		t.Fatalf("active = %+v, want one session with one check-in", active)
	}
	ci := active[0].CheckIns[0]
	if ci.StudentName != "Ama Mensah" || ci.StudentIndex != "UG1001" {
		t.Errorf("decrypted check-in = %+v", ci)
	}

	// Other owners see nothing.
	other, err := svc.ListActive(ctx, "lect-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("non-owner sees %d sessions", len(other))
	}
}

func TestDeleteAndClearHistory(t *testing.T) {
	svc, _ := newTestService(t)
	sess := mustCreate(t, svc)
	ctx := context.Background()

	if err := svc.DeleteSession(ctx, "lect-2", sess.ID); session.CodeOf(err) != session.CodeSessionNotActive {
		t.Errorf("delete by non-owner error = %v", err)
	}
	if err := svc.DeleteSession(ctx, "lect-1", sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	mustCreate(t, svc)
	if n, err := svc.ClearHistory(ctx, "lect-1"); err != nil || n != 1 {
		t.Errorf("ClearHistory = %d, %v; want 1, nil", n, err)
	}
}
