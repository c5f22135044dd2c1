package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres. The
// UNIQUE (student_id, date) constraint on attendance_records is the
// concurrency-control primitive; every mutation here rides on it.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_id, date, status, check_in_time, academy_id, reason, updated_by, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var day time.Time
	err := row.Scan(&rec.ID, &rec.StudentID, &day, &rec.Status, &rec.CheckInTime,
		&rec.AcademyID, &rec.Reason, &rec.UpdatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Date = Date(day.Format(dateLayout))
	return rec, nil
}

// Get returns the record for (studentID, date), or nil when none exists.
func (r *Repository) Get(ctx context.Context, studentID string, date Date) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND date = $2
	`, studentID, string(date))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert creates the day's record or updates the supplied fields of the
// existing one. A conflicting concurrent insert is deterministically
// converted into an update by ON CONFLICT.
func (r *Repository) Upsert(ctx context.Context, studentID string, date Date, f Fields) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, date, status, check_in_time, academy_id, reason, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, date) DO UPDATE SET
			status        = COALESCE(NULLIF(EXCLUDED.status, ''), attendance_records.status),
			check_in_time = COALESCE(EXCLUDED.check_in_time, attendance_records.check_in_time),
			academy_id    = COALESCE(NULLIF(EXCLUDED.academy_id, ''), attendance_records.academy_id),
			reason        = COALESCE(EXCLUDED.reason, attendance_records.reason),
			updated_by    = COALESCE(NULLIF(EXCLUDED.updated_by, ''), attendance_records.updated_by),
			updated_at    = NOW()
		RETURNING `+recordColumns+`
	`, uuid.NewString(), studentID, string(date), string(f.Status), f.CheckInTime, f.AcademyID, f.Reason, f.UpdatedBy)
	return scanRecord(row)
}

// InsertMissing writes the record only when none exists yet. The returned
// bool reports whether a row was created; on conflict the existing record
// is returned untouched. This is the sweep's write path: it can never
// overwrite a check-in or a staff decision, even in a race.
func (r *Repository) InsertMissing(ctx context.Context, studentID string, date Date, f Fields) (Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, date, status, check_in_time, academy_id, reason, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, date) DO NOTHING
		RETURNING `+recordColumns+`
	`, uuid.NewString(), studentID, string(date), string(f.Status), f.CheckInTime, f.AcademyID, f.Reason, f.UpdatedBy)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, gerr := r.Get(ctx, studentID, date)
			if gerr != nil {
				return Record{}, false, gerr
			}
			if existing == nil {
				return Record{}, false, errors.New("insert skipped but no existing record found")
			}
			return *existing, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// ListByStudent returns a student's records within [from, to], newest first.
func (r *Repository) ListByStudent(ctx context.Context, studentID string, from, to Date) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date DESC
	`, studentID, string(from), string(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListByAcademy returns all records for an academy on one day.
func (r *Repository) ListByAcademy(ctx context.Context, academyID string, date Date) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE academy_id = $1 AND date = $2
		ORDER BY student_id
	`, academyID, string(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Summarize counts a student's statuses within [from, to].
func (r *Repository) Summarize(ctx context.Context, studentID string, from, to Date) (Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM attendance_records
		WHERE student_id = $1 AND date >= $2 AND date <= $3
		GROUP BY status
	`, studentID, string(from), string(to))
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	var sum Summary
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Summary{}, err
		}
		switch status {
		case StatusPresent:
			sum.Present = n
		case StatusLate:
			sum.Late = n
		case StatusAbsent:
			sum.Absent = n
		case StatusExcused:
			sum.Excused = n
		}
		sum.Total += n
	}
	return sum, rows.Err()
}
