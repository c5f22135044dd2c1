package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/queue"
)

func newTestWriter(t *testing.T, store Store, events queue.Queue) *Writer {
	t.Helper()
	w, err := NewWriter(store, events, time.UTC, "09:00")
	require.NoError(t, err)
	return w
}

func TestNewWriterRejectsBadCutoff(t *testing.T) {
	for _, bad := range []string{"", "9am", "25:00", "09:61"} {
		_, err := NewWriter(NewMemStore(), nil, time.UTC, bad)
		assert.Error(t, err, bad)
	}
}

func TestCheckInBeforeCutoffIsPresent(t *testing.T) {
	store := NewMemStore()
	w := newTestWriter(t, store, nil)

	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	rec, err := w.CheckIn(context.Background(), "s1", "a1", at)
	require.NoError(t, err)

	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, Date("2024-03-01"), rec.Date)
	assert.Equal(t, "a1", rec.AcademyID)
	assert.Equal(t, UpdatedByCheckIn, rec.UpdatedBy)
	require.NotNil(t, rec.CheckInTime)
	assert.True(t, rec.CheckInTime.Equal(at))
}

func TestCheckInAfterCutoffIsLate(t *testing.T) {
	w := newTestWriter(t, NewMemStore(), nil)

	at := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	rec, err := w.CheckIn(context.Background(), "s1", "a1", at)
	require.NoError(t, err)
	assert.Equal(t, StatusLate, rec.Status)
}

func TestCheckInTwiceReturnsExistingRecord(t *testing.T) {
	store := NewMemStore()
	w := newTestWriter(t, store, nil)

	first, err := w.CheckIn(context.Background(), "s1", "a1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	second, err := w.CheckIn(context.Background(), "s1", "a1", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, StatusPresent, second.Status)
	assert.Len(t, store.Records(), 1)
}

func TestCheckInAfterManualEntryKeepsStatus(t *testing.T) {
	store := NewMemStore()
	w := newTestWriter(t, store, nil)

	reason := "doctor note"
	_, err := w.SetStatus(context.Background(), "s1", "2024-03-01", StatusExcused, &reason, "staff1")
	require.NoError(t, err)

	rec, err := w.CheckIn(context.Background(), "s1", "a1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, StatusExcused, rec.Status)
	assert.NotNil(t, rec.CheckInTime)
	assert.Equal(t, "staff1", rec.UpdatedBy)
	assert.Len(t, store.Records(), 1)
}

func TestSetStatusOverridesCheckIn(t *testing.T) {
	store := NewMemStore()
	w := newTestWriter(t, store, nil)

	_, err := w.CheckIn(context.Background(), "sB", "a1", time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC))
	require.NoError(t, err)

	reason := "doctor note"
	rec, err := w.SetStatus(context.Background(), "sB", "2024-03-01", StatusExcused, &reason, "staff1")
	require.NoError(t, err)

	assert.Equal(t, StatusExcused, rec.Status)
	assert.Equal(t, "staff1", rec.UpdatedBy)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, "doctor note", *rec.Reason)
	assert.NotNil(t, rec.CheckInTime) // original check-in timestamp preserved
	assert.Len(t, store.Records(), 1)
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	w := newTestWriter(t, NewMemStore(), nil)

	_, err := w.SetStatus(context.Background(), "s1", "2024-03-01", Status("NAPPING"), nil, "staff1")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = w.SetStatus(context.Background(), "s1", "2024-03-01", StatusPresent, nil, "")
	assert.Error(t, err)
}

func TestFillAbsentCreatesMarkedRecord(t *testing.T) {
	store := NewMemStore()
	w := newTestWriter(t, store, nil)

	rec, inserted, err := w.FillAbsent(context.Background(), "sA", "2024-03-01", "a1", time.Now())
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, StatusAbsent, rec.Status)
	assert.Equal(t, UpdatedByCron, rec.UpdatedBy)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, ReasonAutoReconciled, *rec.Reason)
}

func TestFillAbsentNeverOverwrites(t *testing.T) {
	store := NewMemStore()
	w := newTestWriter(t, store, nil)

	_, err := w.CheckIn(context.Background(), "sB", "a1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	rec, inserted, err := w.FillAbsent(context.Background(), "sB", "2024-03-01", "a1", time.Now())
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Len(t, store.Records(), 1)
}

func TestConcurrentWritersProduceOneRecord(t *testing.T) {
	store := NewMemStore()
	w := newTestWriter(t, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = w.CheckIn(context.Background(), "s1", "a1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
			} else {
				_, _, _ = w.FillAbsent(context.Background(), "s1", "2024-03-01", "a1", time.Now())
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.Records(), 1)
}

func TestWriterPublishesEvents(t *testing.T) {
	events := queue.NewInMemory(8)
	w := newTestWriter(t, NewMemStore(), events)

	_, err := w.CheckIn(context.Background(), "s1", "a1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := events.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, EventType, msg.Type)
		assert.Contains(t, string(msg.Body), `"student_id":"s1"`)
		assert.Contains(t, string(msg.Body), `"status":"PRESENT"`)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}
