package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"rollcall/internal/ledger"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
)

// Directory lists the students eligible for reconciliation.
type Directory interface {
	ActiveStudents(ctx context.Context) ([]roster.Student, error)
}

// Ledger is the slice of the ledger writer the sweep needs.
type Ledger interface {
	Get(ctx context.Context, studentID string, date ledger.Date) (*ledger.Record, error)
	FillAbsent(ctx context.Context, studentID string, date ledger.Date, academyID string, now time.Time) (ledger.Record, bool, error)
}

// Summary is the run report handed back to the scheduler.
type Summary struct {
	Date          ledger.Date `json:"date"`
	TotalEligible int         `json:"total_eligible"`
	Processed     int         `json:"processed"`
	AbsentMarked  int         `json:"absent_marked"`
	Skipped       int         `json:"skipped"`
	Failed        int         `json:"failed"`
}

// Result is the per-student audit entry.
type Result struct {
	StudentID string `json:"student_id"`
	Outcome   string `json:"outcome"` // "absent", "skipped", "failed"
	Err       string `json:"error,omitempty"`
}

// Job back-fills ABSENT records for students who never produced a ledger
// entry on a given day. It is idempotent and safe to abort: existing
// records are never touched, and a re-run only visits students still
// missing one.
type Job struct {
	directory Directory
	ledger    Ledger
	loc       *time.Location
	workers   int
	now       func() time.Time
}

// NewJob builds a sweep over the given directory and ledger. workers
// bounds the per-student parallelism.
func NewJob(directory Directory, lg Ledger, loc *time.Location, workers int) *Job {
	if loc == nil {
		loc = time.UTC
	}
	if workers <= 0 {
		workers = 1
	}
	return &Job{directory: directory, ledger: lg, loc: loc, workers: workers, now: time.Now}
}

// Run sweeps one day. An empty date means "today" in the academy
// timezone. Per-student failures are logged and counted, never fatal; the
// run always completes with a summary unless listing the roster itself
// fails or the context is cancelled.
func (j *Job) Run(ctx context.Context, date ledger.Date) (Summary, []Result, error) {
	if date == "" {
		date = ledger.DateOf(j.now(), j.loc)
	}
	students, err := j.directory.ActiveStudents(ctx)
	if err != nil {
		return Summary{Date: date}, nil, err
	}
	metrics.ReconcileRuns.Inc()

	feed := make(chan roster.Student)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < j.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range feed {
				results <- j.reconcileStudent(ctx, st, date)
			}
		}()
	}

	go func() {
		defer close(feed)
		for _, st := range students {
			select {
			case feed <- st:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := Summary{Date: date, TotalEligible: len(students)}
	audit := make([]Result, 0, len(students))
	for res := range results {
		summary.Processed++
		switch res.Outcome {
		case "absent":
			summary.AbsentMarked++
		case "skipped":
			summary.Skipped++
		case "failed":
			summary.Failed++
		}
		audit = append(audit, res)
	}

	log.Printf("reconcile %s: eligible=%d processed=%d absent=%d skipped=%d failed=%d",
		date, summary.TotalEligible, summary.Processed, summary.AbsentMarked, summary.Skipped, summary.Failed)
	return summary, audit, nil
}

// reconcileStudent is the per-student state machine: has-record -> skip,
// no-record -> fill ABSENT. All writes for one student happen on one
// worker, so they are sequential relative to each other.
func (j *Job) reconcileStudent(ctx context.Context, st roster.Student, date ledger.Date) Result {
	if err := ctx.Err(); err != nil {
		metrics.ReconcileFailures.Inc()
		return Result{StudentID: st.ID, Outcome: "failed", Err: err.Error()}
	}

	existing, err := j.ledger.Get(ctx, st.ID, date)
	if err != nil {
		log.Printf("reconcile: lookup failed for student %s: %v", st.ID, err)
		metrics.ReconcileFailures.Inc()
		return Result{StudentID: st.ID, Outcome: "failed", Err: err.Error()}
	}
	if existing != nil {
		return Result{StudentID: st.ID, Outcome: "skipped"}
	}

	_, inserted, err := j.ledger.FillAbsent(ctx, st.ID, date, st.AcademyID, j.now())
	if err != nil {
		log.Printf("reconcile: fill failed for student %s: %v", st.ID, err)
		metrics.ReconcileFailures.Inc()
		return Result{StudentID: st.ID, Outcome: "failed", Err: err.Error()}
	}
	if !inserted {
		// a check-in or override landed between lookup and insert
		return Result{StudentID: st.ID, Outcome: "skipped"}
	}
	return Result{StudentID: st.ID, Outcome: "absent"}
}
