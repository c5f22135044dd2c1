package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Student is the read-only view of the externally-owned student directory.
// The engine never writes to this table.
type Student struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name,omitempty"`
	AcademyID string    `json:"academy_id"`
	ClassID   *string   `json:"class_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository reads the student directory.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ActiveStudents lists every actively enrolled student. Active enrollment
// is the sole eligibility signal for reconciliation; the code store is
// never consulted.
func (r *Repository) ActiveStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, academy_id, class_id, is_active, created_at
		FROM students
		WHERE is_active
		ORDER BY academy_id, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.AcademyID, &s.ClassID, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// Get returns a single student, or nil when unknown.
func (r *Repository) Get(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, academy_id, class_id, is_active, created_at
		FROM students WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.AcademyID, &s.ClassID, &s.IsActive, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
