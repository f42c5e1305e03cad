package attendance

import (
	"strings"
	"time"
	"unicode/utf8"

	"unilink/backend/apperr"
)

type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusPenalty Status = "penalty"
	// StatusUnmarked is never stored; it labels members without a record.
	StatusUnmarked Status = "unmarked"
)

func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusPenalty
}

type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionFinalized SessionStatus = "finalized"
)

// Counts tallies the records of a session.
type Counts struct {
	Present  int `json:"present"`
	Absent   int `json:"absent"`
	Penalty  int `json:"penalty"`
	Unmarked int `json:"unmarked"`
}

type Session struct {
	ID          int64         `json:"id"`
	GroupID     int64         `json:"group_id"`
	CreatedBy   int64         `json:"created_by"`
	Title       string        `json:"title"`
	StartsAt    time.Time     `json:"starts_at"`
	EndsAt      *time.Time    `json:"ends_at,omitempty"`
	Status      SessionStatus `json:"status"`
	FinalizedAt *time.Time    `json:"finalized_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Counts      Counts        `json:"counts"`
}

// Record is one student's status in a session.
type Record struct {
	StudentID int64      `json:"student_id"`
	Username  string     `json:"username"`
	FullName  string     `json:"full_name"`
	Status    Status     `json:"status"`
	Note      string     `json:"note"`
	MarkedBy  int64      `json:"marked_by,omitempty"`
	MarkedAt  *time.Time `json:"marked_at,omitempty"`
}

type SessionDetail struct {
	Session
	Records []Record `json:"records"`
}

// Mark is a requested status change for one student.
type Mark struct {
	StudentID int64  `json:"student_id"`
	Status    Status `json:"status"`
	Note      string `json:"note"`
}

// Summary aggregates one student's records across a group's sessions.
type Summary struct {
	GroupID        int64   `json:"group_id"`
	StudentID      int64   `json:"student_id"`
	Sessions       int     `json:"sessions"`
	Marked         int     `json:"marked"`
	Present        int     `json:"present"`
	Absent         int     `json:"absent"`
	Penalty        int     `json:"penalty"`
	AttendanceRate float64 `json:"attendance_rate"`
}

const (
	maxTitleRunes = 100
	maxNoteRunes  = 500
)

func validateTitle(title string, startsAt time.Time) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Session " + startsAt.Format("2006-01-02"), nil
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return "", apperr.Invalid("title must be at most 100 characters")
	}
	return title, nil
}

func (m *Mark) validate() error {
	if m.StudentID <= 0 {
		return apperr.Invalid("student_id is required")
	}
	if !m.Status.Valid() {
		return apperr.Invalid("status must be present, absent or penalty")
	}
	m.Note = strings.TrimSpace(m.Note)
	if utf8.RuneCountInString(m.Note) > maxNoteRunes {
		return apperr.Invalid("note must be at most 500 characters")
	}
	return nil
}
