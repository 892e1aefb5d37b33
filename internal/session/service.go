package session

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/geo"
	"rollcall/internal/piicrypt"
)

// Service owns session lifecycle transitions and the check-in validation
// pipeline. It holds no state of its own; every current-time and
// session-state question is answered by the injected clock and the store.
type Service struct {
	store   Store
	cipher  *piicrypt.Cipher
	radiusM float64
	now     func() time.Time
}

// NewService creates a service. radiusM is the proximity threshold; now may
// be nil to use the wall clock.
func NewService(store Store, cipher *piicrypt.Cipher, radiusM float64, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: store, cipher: cipher, radiusM: radiusM, now: now}
}

// CreateSessionInput carries an instructor's session-creation request.
type CreateSessionInput struct {
	OwnerID    string
	ClassName  string
	CourseName string
	Date       string // YYYY-MM-DD
	StartTime  string // HH:MM
	EndTime    string // HH:MM
	Anchor     geo.Coordinate
}

// CreateSession validates the request and persists a new Active session.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*Session, error) {
	if in.OwnerID == "" || in.ClassName == "" || in.CourseName == "" ||
		in.Date == "" || in.StartTime == "" || in.EndTime == "" {
		return nil, ErrValidation("all fields including instructor location are required")
	}
	if _, err := time.Parse(dateLayout, in.Date); err != nil {
		return nil, ErrValidation("date must be YYYY-MM-DD")
	}
	start, err := time.Parse(timeLayout, in.StartTime)
	if err != nil {
		return nil, ErrValidation("start_time must be HH:MM")
	}
	end, err := time.Parse(timeLayout, in.EndTime)
	if err != nil {
		return nil, ErrValidation("end_time must be HH:MM")
	}
	if !start.Before(end) {
		return nil, ErrValidation("start_time must be before end_time")
	}
	if missingCoordinate(in.Anchor) {
		return nil, ErrValidation("all fields including instructor location are required")
	}
	if err := geo.Validate(in.Anchor); err != nil {
		return nil, ErrValidation("invalid anchor coordinates")
	}

	sess := &Session{
		ID:         uuid.NewString(),
		OwnerID:    in.OwnerID,
		ClassName:  in.ClassName,
		CourseName: in.CourseName,
		Date:       in.Date,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		Anchor:     in.Anchor,
		Status:     StatusActive,
		CreatedAt:  s.now(),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		log.Printf("session create failed: %v", err)
		return nil, ErrStoreUnavailable()
	}
	return sess, nil
}

// CancelSession transitions one of the owner's Active sessions to Cancelled.
// The outcome does not distinguish not-found from not-owned from not-active.
func (s *Service) CancelSession(ctx context.Context, ownerID, sessionID string) error {
	if ownerID == "" || sessionID == "" {
		return ErrValidation("owner and session id required")
	}
	err := s.store.Cancel(ctx, ownerID, sessionID)
	switch {
	case err == nil:
		return nil
	case err == ErrNotActive:
		return ErrSessionNotActive()
	default:
		log.Printf("session cancel failed: %v", err)
		return ErrStoreUnavailable()
	}
}

// CheckInInput carries one student's check-in attempt. ClassName, Date and
// EndTime come from the scanned code payload.
type CheckInInput struct {
	ClassName    string
	Date         string
	EndTime      string
	StudentName  string
	StudentIndex string
	DeviceID     string // optional
	Location     geo.Coordinate
}

// SubmitCheckIn runs the validation pipeline for one attempt, short-circuiting
// at the first failure: lookup, time window, proximity, then an atomic
// duplicate-check-and-append at the store.
func (s *Service) SubmitCheckIn(ctx context.Context, in CheckInInput) (*Ack, error) {
	if in.ClassName == "" || in.Date == "" || in.EndTime == "" ||
		in.StudentName == "" || in.StudentIndex == "" {
		return nil, ErrValidation("class, date, end time, student name and index number are required")
	}
	if missingCoordinate(in.Location) {
		return nil, ErrValidation("location is required")
	}
	if err := geo.Validate(in.Location); err != nil {
		return nil, ErrValidation("invalid coordinates")
	}

	sess, err := s.store.FindActiveTarget(ctx, in.ClassName, in.Date, in.EndTime)
	if err != nil {
		log.Printf("check-in lookup failed: %v", err)
		return nil, ErrStoreUnavailable()
	}
	if sess == nil {
		return nil, ErrSessionNotActive()
	}

	// The window is evaluated even though an expired session would also fail
	// lookup once swept; the sweep runs on a delay and a late attempt in that
	// gap must be rejected on time grounds.
	now := s.now()
	start, err := sess.StartInstant()
	if err != nil {
		return nil, ErrValidation("session has a malformed start time")
	}
	end, err := sess.EndInstant()
	if err != nil {
		return nil, ErrValidation("session has a malformed end time")
	}
	if now.Before(start) {
		return nil, ErrTooEarly()
	}
	if !now.Before(end) {
		return nil, ErrTooLate()
	}

	within, dist, err := geo.WithinRadius(sess.Anchor, in.Location, s.radiusM)
	if err != nil {
		return nil, ErrValidation("invalid coordinates")
	}
	if !within {
		return nil, ErrOutOfRange(dist)
	}

	nameCipher, err := s.cipher.Encrypt(in.StudentName)
	if err != nil {
		return nil, ErrStoreUnavailable()
	}
	indexCipher, err := s.cipher.Encrypt(in.StudentIndex)
	if err != nil {
		return nil, ErrStoreUnavailable()
	}

	ci := CheckIn{
		NameCipher:  nameCipher,
		IndexCipher: indexCipher,
		DeviceID:    in.DeviceID,
		Location:    in.Location,
		Timestamp:   now,
	}
	err = s.store.AppendCheckIn(ctx, sess.ID, ci, func(existing []CheckIn) bool {
		return s.isDuplicate(existing, in.StudentIndex, in.DeviceID)
	})
	switch {
	case err == nil:
		return &Ack{SessionID: sess.ID, Timestamp: now}, nil
	case err == ErrDuplicateEntry:
		return nil, ErrDuplicate()
	case err == ErrNotActive:
		return nil, ErrSessionNotActive()
	default:
		log.Printf("check-in append failed: %v", err)
		return nil, ErrStoreUnavailable()
	}
}

// missingCoordinate treats the all-zero pair as an absent location. Callers
// that omit the fields decode to exactly (0,0), a point in the Gulf of Guinea
// no class meets at; a proximity anchor must be supplied, never defaulted.
func missingCoordinate(c geo.Coordinate) bool {
	return c.Lat == 0 && c.Lng == 0
}

// isDuplicate reports whether any existing entry belongs to the same student
// index or, when a device id is supplied, the same device. Both vectors are
// suppressed independently. Unreadable cipher tokens never match.
func (s *Service) isDuplicate(existing []CheckIn, studentIndex, deviceID string) bool {
	for _, ci := range existing {
		if idx, ok := s.cipher.Decrypt(ci.IndexCipher); ok && idx == studentIndex {
			return true
		}
		if deviceID != "" && ci.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// ExpireDueSessions completes every Active session past its end instant.
// Idempotent: a run with nothing due is a no-op.
func (s *Service) ExpireDueSessions(ctx context.Context, now time.Time) (int, error) {
	count, err := s.store.ExpireDue(ctx, now)
	if err != nil {
		log.Printf("expire sweep failed: %v", err)
		return 0, ErrStoreUnavailable()
	}
	return count, nil
}

// ListActive returns the owner's Active sessions with check-in PII decrypted
// at this authorized read boundary.
func (s *Service) ListActive(ctx context.Context, ownerID string) ([]SessionView, error) {
	return s.list(ctx, ownerID, StatusActive)
}

// ListHistory returns the owner's Completed and Cancelled sessions.
func (s *Service) ListHistory(ctx context.Context, ownerID string) ([]SessionView, error) {
	return s.list(ctx, ownerID, StatusCompleted, StatusCancelled)
}

func (s *Service) list(ctx context.Context, ownerID string, statuses ...Status) ([]SessionView, error) {
	if ownerID == "" {
		return nil, ErrValidation("owner id required")
	}
	sessions, err := s.store.ListByOwner(ctx, ownerID, statuses...)
	if err != nil {
		log.Printf("session list failed: %v", err)
		return nil, ErrStoreUnavailable()
	}
	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, s.view(&sessions[i]))
	}
	return views, nil
}

func (s *Service) view(sess *Session) SessionView {
	v := SessionView{
		ID:         sess.ID,
		ClassName:  sess.ClassName,
		CourseName: sess.CourseName,
		Date:       sess.Date,
		StartTime:  sess.StartTime,
		EndTime:    sess.EndTime,
		Anchor:     sess.Anchor,
		Status:     sess.Status,
		CheckIns:   make([]CheckInView, 0, len(sess.CheckIns)),
		CreatedAt:  sess.CreatedAt,
	}
	for _, ci := range sess.CheckIns {
		// Unreadable tokens render as empty fields rather than failing the
		// whole read.
		name, _ := s.cipher.Decrypt(ci.NameCipher)
		index, _ := s.cipher.Decrypt(ci.IndexCipher)
		v.CheckIns = append(v.CheckIns, CheckInView{
			StudentName:  name,
			StudentIndex: index,
			DeviceID:     ci.DeviceID,
			Location:     ci.Location,
			Timestamp:    ci.Timestamp,
		})
	}
	return v
}

// DeleteSession removes one of the owner's sessions. Administrative; not part
// of the lifecycle state machine.
func (s *Service) DeleteSession(ctx context.Context, ownerID, sessionID string) error {
	if ownerID == "" || sessionID == "" {
		return ErrValidation("owner and session id required")
	}
	err := s.store.Delete(ctx, ownerID, sessionID)
	switch {
	case err == nil:
		return nil
	case err == ErrNotActive:
		return ErrSessionNotActive()
	default:
		log.Printf("session delete failed: %v", err)
		return ErrStoreUnavailable()
	}
}

// ClearHistory removes every session owned by ownerID.
func (s *Service) ClearHistory(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, ErrValidation("owner id required")
	}
	n, err := s.store.DeleteAllByOwner(ctx, ownerID)
	if err != nil {
		log.Printf("history clear failed: %v", err)
		return 0, ErrStoreUnavailable()
	}
	return n, nil
}
