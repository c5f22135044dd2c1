package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/ledger"
	"rollcall/internal/roster"
)

type fakeDirectory struct {
	students []roster.Student
	err      error
}

func (f *fakeDirectory) ActiveStudents(ctx context.Context) ([]roster.Student, error) {
	return f.students, f.err
}

func students(ids ...string) []roster.Student {
	out := make([]roster.Student, 0, len(ids))
	for _, id := range ids {
		out = append(out, roster.Student{ID: id, AcademyID: "a1", IsActive: true})
	}
	return out
}

func newFixture(t *testing.T, dir Directory) (*ledger.MemStore, *Job, *ledger.Writer) {
	t.Helper()
	store := ledger.NewMemStore()
	w, err := ledger.NewWriter(store, nil, time.UTC, "09:00")
	require.NoError(t, err)
	return store, NewJob(dir, w, time.UTC, 4), w
}

const day = ledger.Date("2024-03-01")

func TestRunBackfillsAbsentForMissingStudents(t *testing.T) {
	dir := &fakeDirectory{students: students("sA", "sB", "sC")}
	store, job, w := newFixture(t, dir)

	// student B checked in at 09:05 and is LATE; A and C never showed
	_, err := w.CheckIn(context.Background(), "sB", "a1", time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC))
	require.NoError(t, err)

	summary, audit, err := job.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, day, summary.Date)
	assert.Equal(t, 3, summary.TotalEligible)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.AbsentMarked)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, audit, 3)

	recA, err := w.Get(context.Background(), "sA", day)
	require.NoError(t, err)
	require.NotNil(t, recA)
	assert.Equal(t, ledger.StatusAbsent, recA.Status)
	assert.Equal(t, ledger.UpdatedByCron, recA.UpdatedBy)
	require.NotNil(t, recA.Reason)
	assert.Equal(t, ledger.ReasonAutoReconciled, *recA.Reason)

	// B's genuine check-in is untouched
	recB, err := w.Get(context.Background(), "sB", day)
	require.NoError(t, err)
	require.NotNil(t, recB)
	assert.Equal(t, ledger.StatusLate, recB.Status)

	assert.Len(t, store.Records(), 3)
}

func TestRunIsIdempotent(t *testing.T) {
	dir := &fakeDirectory{students: students("sA", "sB")}
	store, job, _ := newFixture(t, dir)

	first, _, err := job.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 2, first.AbsentMarked)
	snapshot := store.Records()

	second, _, err := job.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 0, second.AbsentMarked)
	assert.Equal(t, 2, second.Skipped)
	assert.ElementsMatch(t, snapshot, store.Records())
}

func TestRunDoesNotOverwriteExistingRecords(t *testing.T) {
	dir := &fakeDirectory{students: students("sB")}
	_, job, w := newFixture(t, dir)

	before, err := w.CheckIn(context.Background(), "sB", "a1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPresent, before.Status)

	_, _, err = job.Run(context.Background(), day)
	require.NoError(t, err)

	after, err := w.Get(context.Background(), "sB", day)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, ledger.StatusPresent, after.Status)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestRunToleratesPerStudentFailures(t *testing.T) {
	dir := &fakeDirectory{students: students("sA", "sBroken", "sC")}
	store, job, _ := newFixture(t, dir)
	store.FailFor = map[string]error{"sBroken": errors.New("connection reset")}

	summary, audit, err := job.Run(context.Background(), day)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.AbsentMarked)
	assert.Equal(t, 1, summary.Failed)

	var failed *Result
	for i := range audit {
		if audit[i].Outcome == "failed" {
			failed = &audit[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "sBroken", failed.StudentID)
	assert.Contains(t, failed.Err, "connection reset")

	// a re-run after the fault clears only touches the missed student
	store.FailFor = nil
	again, _, err := job.Run(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 1, again.AbsentMarked)
	assert.Equal(t, 2, again.Skipped)
}

func TestRunDefaultsToTodayInAcademyTimezone(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	dir := &fakeDirectory{students: students("sA")}
	store := ledger.NewMemStore()
	w, err := ledger.NewWriter(store, nil, seoul, "09:00")
	require.NoError(t, err)
	job := NewJob(dir, w, seoul, 2)
	// 16:30 UTC on Feb 29 is already March 1 in Seoul
	job.now = func() time.Time { return time.Date(2024, 2, 29, 16, 30, 0, 0, time.UTC) }

	summary, _, err := job.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, ledger.Date("2024-03-01"), summary.Date)

	rec, err := w.Get(context.Background(), "sA", "2024-03-01")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	dir := &fakeDirectory{students: students("sA", "sB", "sC")}
	store, job, _ := newFixture(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, _, err := job.Run(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AbsentMarked)
	assert.Empty(t, store.Records())
}

func TestRunFailsWhenRosterUnavailable(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("directory down")}
	_, job, _ := newFixture(t, dir)

	_, _, err := job.Run(context.Background(), day)
	assert.Error(t, err)
}
