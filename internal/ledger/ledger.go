package ledger

import (
	"errors"
	"time"
)

// Status is the closed set of daily attendance outcomes.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
	StatusExcused Status = "EXCUSED"
)

// Valid reports whether s is a supported status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return true
	default:
		return false
	}
}

// Provenance markers for records created by the reconciliation sweep.
const (
	UpdatedByCron        = "auto-cron"
	UpdatedByCheckIn     = "checkin"
	ReasonAutoReconciled = "auto-reconciled"
)

const dateLayout = "2006-01-02"

// Date is a calendar day (no time component) in the academy's timezone,
// formatted YYYY-MM-DD.
type Date string

// DateOf truncates t to the calendar day it falls on in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(dateLayout))
}

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", ErrInvalidDate
	}
	return Date(t.Format(dateLayout)), nil
}

// Time returns midnight of the date in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, _ := time.ParseInLocation(dateLayout, string(d), loc)
	return t
}

func (d Date) String() string { return string(d) }

var (
	// ErrInvalidStatus rejects values outside the closed status enum.
	ErrInvalidStatus = errors.New("invalid attendance status")
	// ErrInvalidDate rejects dates that are not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date, want YYYY-MM-DD")
)

// Record is the single attendance row for one student on one calendar day.
type Record struct {
	ID          string     `json:"id"`
	StudentID   string     `json:"student_id"`
	Date        Date       `json:"date"`
	Status      Status     `json:"status"`
	CheckInTime *time.Time `json:"check_in_time,omitempty"`
	AcademyID   string     `json:"academy_id"`
	Reason      *string    `json:"reason,omitempty"`
	UpdatedBy   string     `json:"updated_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Fields carries the values a caller supplies to Upsert. Zero values
// (empty strings, nil pointers) mean "leave the stored value alone" on
// update; on insert they fall back to column defaults.
type Fields struct {
	Status      Status
	CheckInTime *time.Time
	AcademyID   string
	Reason      *string
	UpdatedBy   string
}

// Summary aggregates a student's statuses over a date range.
type Summary struct {
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
	Excused int `json:"excused"`
	Total   int `json:"total"`
}
