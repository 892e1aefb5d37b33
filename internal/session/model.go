package session

import (
	"time"

	"rollcall/internal/geo"
)

// Status is the lifecycle state of an attendance session.
type Status string

const (
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Session is one time-boxed attendance-taking event for a class meeting.
// Times are wall-clock strings interpreted as UTC when combined with Date.
type Session struct {
	ID         string
	OwnerID    string
	ClassName  string
	CourseName string
	Date       string // YYYY-MM-DD
	StartTime  string // HH:MM
	EndTime    string // HH:MM
	Anchor     geo.Coordinate
	Status     Status
	CheckIns   []CheckIn
	CreatedAt  time.Time
}

// CheckIn is one student's recorded attendance. Name and index number are
// stored as cipher tokens, never plaintext.
type CheckIn struct {
	NameCipher  string
	IndexCipher string
	DeviceID    string
	Location    geo.Coordinate
	Timestamp   time.Time
}

// StartInstant returns the session's opening instant in UTC.
func (s *Session) StartInstant() (time.Time, error) {
	return time.Parse(dateLayout+" "+timeLayout, s.Date+" "+s.StartTime)
}

// EndInstant returns the session's closing instant in UTC.
func (s *Session) EndInstant() (time.Time, error) {
	return time.Parse(dateLayout+" "+timeLayout, s.Date+" "+s.EndTime)
}

// CheckInView is a check-in with PII decrypted for an authorized owner read.
// Unreadable cipher tokens render as empty fields.
type CheckInView struct {
	StudentName  string         `json:"student_name"`
	StudentIndex string         `json:"index_number"`
	DeviceID     string         `json:"device_id,omitempty"`
	Location     geo.Coordinate `json:"location"`
	Timestamp    time.Time      `json:"timestamp"`
}

// SessionView is the owner-facing read projection of a session.
type SessionView struct {
	ID         string         `json:"id"`
	ClassName  string         `json:"class_name"`
	CourseName string         `json:"course_name"`
	Date       string         `json:"date"`
	StartTime  string         `json:"start_time"`
	EndTime    string         `json:"end_time"`
	Anchor     geo.Coordinate `json:"anchor_location"`
	Status     Status         `json:"status"`
	CheckIns   []CheckInView  `json:"check_ins"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Ack acknowledges an accepted check-in without echoing any PII.
type Ack struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}
