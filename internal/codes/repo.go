package codes

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists verification codes in Postgres. Two partial unique
// indexes back the invariants: one active code per student, and one
// student per active code value.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Rotate deactivates the student's current code and inserts c as the new
// active one in a single transaction. The previous code value is returned
// so the caller can drop it from the cache. A unique violation on the
// active-code index surfaces as ErrCodeTaken.
func (r *Repository) Rotate(ctx context.Context, c Code) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx, `
		SELECT code FROM attendance_codes
		WHERE student_id = $1 AND is_active
		FOR UPDATE
	`, c.StudentID).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	if prev != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_codes SET is_active = FALSE
			WHERE student_id = $1 AND is_active
		`, c.StudentID); err != nil {
			return "", err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_codes (id, student_id, code, is_active, created_at, expires_at)
		VALUES ($1, $2, $3, TRUE, $4, $5)
	`, c.ID, c.StudentID, c.Code, c.CreatedAt, c.ExpiresAt); err != nil {
		if isUniqueViolation(err) {
			return "", ErrCodeTaken
		}
		return "", err
	}

	return prev, tx.Commit()
}

// IsCodeActive reports whether any student currently holds the value.
// Expiry is deliberately ignored here: an expired-but-unflipped row still
// occupies the active-code index, so it still counts as a collision.
func (r *Repository) IsCodeActive(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM attendance_codes WHERE code = $1 AND is_active)
	`, code).Scan(&exists)
	return exists, err
}

// FindActiveByCode returns the active code row for a value, or nil.
func (r *Repository) FindActiveByCode(ctx context.Context, code string) (*Code, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, code, is_active, created_at, expires_at
		FROM attendance_codes
		WHERE code = $1 AND is_active
	`, code)
	return scanCode(row)
}

// ActiveByStudent returns the student's active code row, or nil.
func (r *Repository) ActiveByStudent(ctx context.Context, studentID string) (*Code, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, code, is_active, created_at, expires_at
		FROM attendance_codes
		WHERE student_id = $1 AND is_active
	`, studentID)
	return scanCode(row)
}

func scanCode(row *sql.Row) (*Code, error) {
	var c Code
	err := row.Scan(&c.ID, &c.StudentID, &c.Code, &c.IsActive, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Deactivate revokes the student's active code and returns its value for
// cache invalidation.
func (r *Repository) Deactivate(ctx context.Context, studentID string) (string, error) {
	var prev string
	err := r.db.QueryRowContext(ctx, `
		UPDATE attendance_codes SET is_active = FALSE
		WHERE student_id = $1 AND is_active
		RETURNING code
	`, studentID).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return prev, err
}

// ExpireStale flips the active flag on codes whose expiry has passed.
// Verification already treats them as dead; this keeps the table honest.
func (r *Repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_codes SET is_active = FALSE
		WHERE is_active AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
