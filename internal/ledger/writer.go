package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"rollcall/internal/metrics"
	"rollcall/internal/queue"
)

// Store is the persistence surface the writer needs. *Repository satisfies
// it; tests use an in-memory fake.
type Store interface {
	Get(ctx context.Context, studentID string, date Date) (*Record, error)
	Upsert(ctx context.Context, studentID string, date Date, f Fields) (Record, error)
	InsertMissing(ctx context.Context, studentID string, date Date, f Fields) (Record, bool, error)
}

// Writer is the single entry point for ledger mutations. Check-in, manual
// override and the reconciliation sweep all route through it so the
// one-record-per-day invariant is enforced in exactly one place.
type Writer struct {
	store      Store
	events     queue.Queue
	loc        *time.Location
	cutoffHour int
	cutoffMin  int
}

// NewWriter builds a writer. lateCutoff is a local "HH:MM" clock time;
// check-ins at or after it are marked LATE. events may be nil.
func NewWriter(store Store, events queue.Queue, loc *time.Location, lateCutoff string) (*Writer, error) {
	if loc == nil {
		loc = time.UTC
	}
	var h, m int
	if _, err := fmt.Sscanf(lateCutoff, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return nil, fmt.Errorf("invalid late cutoff %q", lateCutoff)
	}
	return &Writer{store: store, events: events, loc: loc, cutoffHour: h, cutoffMin: m}, nil
}

// RecordEvent is published on every ledger write for downstream reporting
// and billing consumers.
type RecordEvent struct {
	StudentID string `json:"student_id"`
	AcademyID string `json:"academy_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Source    string `json:"source"`
}

// EventType marks ledger write messages on the queue.
const EventType = "attendance.recorded"

func (w *Writer) publish(ctx context.Context, rec Record, source string) {
	if w.events == nil {
		return
	}
	body, err := json.Marshal(RecordEvent{
		StudentID: rec.StudentID,
		AcademyID: rec.AcademyID,
		Date:      rec.Date.String(),
		Status:    string(rec.Status),
		Source:    source,
	})
	if err != nil {
		return
	}
	if err := w.events.Publish(ctx, queue.Message{Type: EventType, Body: body}); err != nil {
		log.Printf("attendance event publish failed: %v", err)
	}
}

// CheckIn records a verified code entry for the day it falls on. Repeated
// check-ins return the existing record; a day that already holds a staff
// decision keeps its status and only gains the check-in timestamp.
func (w *Writer) CheckIn(ctx context.Context, studentID, academyID string, now time.Time) (Record, error) {
	if studentID == "" {
		return Record{}, errors.New("student id required")
	}
	local := now.In(w.loc)
	date := DateOf(now, w.loc)

	existing, err := w.store.Get(ctx, studentID, date)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		if existing.CheckInTime != nil {
			return *existing, nil
		}
		rec, err := w.store.Upsert(ctx, studentID, date, Fields{CheckInTime: &local})
		if err != nil {
			return Record{}, err
		}
		w.publish(ctx, rec, "checkin")
		return rec, nil
	}

	status := StatusPresent
	if w.isLate(local) {
		status = StatusLate
	}
	rec, err := w.store.Upsert(ctx, studentID, date, Fields{
		Status:      status,
		CheckInTime: &local,
		AcademyID:   academyID,
		UpdatedBy:   UpdatedByCheckIn,
	})
	if err != nil {
		return Record{}, err
	}
	metrics.CheckIns.Inc()
	w.publish(ctx, rec, "checkin")
	return rec, nil
}

func (w *Writer) isLate(local time.Time) bool {
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), w.cutoffHour, w.cutoffMin, 0, 0, w.loc)
	return !local.Before(cutoff)
}

// SetStatus is the staff override path. It validates the closed enum and
// stamps the staff identifier as the record's author.
func (w *Writer) SetStatus(ctx context.Context, studentID string, date Date, status Status, reason *string, staffID string) (Record, error) {
	if studentID == "" || staffID == "" {
		return Record{}, errors.New("student id and staff id required")
	}
	if !status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	rec, err := w.store.Upsert(ctx, studentID, date, Fields{
		Status:    status,
		Reason:    reason,
		UpdatedBy: staffID,
	})
	if err != nil {
		return Record{}, err
	}
	metrics.Overrides.Inc()
	w.publish(ctx, rec, "override")
	return rec, nil
}

// FillAbsent back-fills an ABSENT record for students with no entry on
// date. It never overwrites: the bool reports whether a row was created.
func (w *Writer) FillAbsent(ctx context.Context, studentID string, date Date, academyID string, now time.Time) (Record, bool, error) {
	reason := ReasonAutoReconciled
	local := now.In(w.loc)
	rec, inserted, err := w.store.InsertMissing(ctx, studentID, date, Fields{
		Status:      StatusAbsent,
		CheckInTime: &local,
		AcademyID:   academyID,
		Reason:      &reason,
		UpdatedBy:   UpdatedByCron,
	})
	if err != nil {
		return Record{}, false, err
	}
	if inserted {
		metrics.AbsentMarked.Inc()
		w.publish(ctx, rec, "reconcile")
	}
	return rec, inserted, nil
}

// Get returns the day's record for a student, if any.
func (w *Writer) Get(ctx context.Context, studentID string, date Date) (*Record, error) {
	return w.store.Get(ctx, studentID, date)
}

// Location exposes the academy timezone the writer stamps dates in.
func (w *Writer) Location() *time.Location { return w.loc }
