package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPresent, StatusLate, StatusAbsent, StatusExcused} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("SLEEPING").Valid())
	assert.False(t, Status("present").Valid())
	assert.False(t, Status("").Valid())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, Date("2024-03-01"), d)

	for _, bad := range []string{"2024-3-1", "01-03-2024", "2024-03-01T00:00:00Z", "yesterday", ""} {
		_, err := ParseDate(bad)
		assert.ErrorIs(t, err, ErrInvalidDate, bad)
	}
}

func TestDateOfUsesAcademyTimezone(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 16:30 UTC on Feb 29 is already March 1 in Seoul.
	utcEvening := time.Date(2024, 2, 29, 16, 30, 0, 0, time.UTC)
	assert.Equal(t, Date("2024-02-29"), DateOf(utcEvening, time.UTC))
	assert.Equal(t, Date("2024-03-01"), DateOf(utcEvening, seoul))
}

func TestDateTimeRoundTrip(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	d := Date("2024-03-01")
	midnight := d.Time(seoul)
	assert.Equal(t, 0, midnight.Hour())
	assert.Equal(t, d, DateOf(midnight, seoul))
}
