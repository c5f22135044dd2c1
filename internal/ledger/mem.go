package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store with the same merge semantics as the
// Postgres repository. It backs tests and local development without a
// database.
type MemStore struct {
	mu   sync.Mutex
	recs map[string]Record

	// FailFor forces an error for specific student ids, for exercising
	// partial-failure paths.
	FailFor map[string]error
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string]Record)}
}

func memKey(studentID string, date Date) string {
	return studentID + "|" + string(date)
}

func (m *MemStore) fail(studentID string) error {
	if m.FailFor == nil {
		return nil
	}
	return m.FailFor[studentID]
}

// Get returns the record for (studentID, date), or nil.
func (m *MemStore) Get(ctx context.Context, studentID string, date Date) (*Record, error) {
	if err := m.fail(studentID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[memKey(studentID, date)]; ok {
		cp := rec
		return &cp, nil
	}
	return nil, nil
}

// Upsert creates or merges, mirroring the SQL ON CONFLICT clause: empty
// strings and nil pointers leave stored values alone.
func (m *MemStore) Upsert(ctx context.Context, studentID string, date Date, f Fields) (Record, error) {
	if err := m.fail(studentID); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	key := memKey(studentID, date)
	rec, ok := m.recs[key]
	if !ok {
		rec = Record{
			ID:        uuid.NewString(),
			StudentID: studentID,
			Date:      date,
			CreatedAt: now,
		}
	}
	if f.Status != "" {
		rec.Status = f.Status
	}
	if f.CheckInTime != nil {
		rec.CheckInTime = f.CheckInTime
	}
	if f.AcademyID != "" {
		rec.AcademyID = f.AcademyID
	}
	if f.Reason != nil {
		rec.Reason = f.Reason
	}
	if f.UpdatedBy != "" {
		rec.UpdatedBy = f.UpdatedBy
	}
	rec.UpdatedAt = now
	m.recs[key] = rec
	return rec, nil
}

// InsertMissing creates the record only when absent.
func (m *MemStore) InsertMissing(ctx context.Context, studentID string, date Date, f Fields) (Record, bool, error) {
	if err := m.fail(studentID); err != nil {
		return Record{}, false, err
	}
	m.mu.Lock()
	key := memKey(studentID, date)
	if rec, ok := m.recs[key]; ok {
		m.mu.Unlock()
		return rec, false, nil
	}
	m.mu.Unlock()
	rec, err := m.Upsert(ctx, studentID, date, f)
	return rec, err == nil, err
}

// Records returns a snapshot of all stored records.
func (m *MemStore) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	return out
}
