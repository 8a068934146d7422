package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckInStatus(t *testing.T) {
	s, err := ParseCheckInStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, CheckInCompleted, s)

	s, err = ParseCheckInStatus("missed")
	require.NoError(t, err)
	assert.Equal(t, CheckInMissed, s)

	for _, raw := range []string{"", "pending", "Completed", " completed", "missed\t"} {
		_, err := ParseCheckInStatus(raw)
		assert.ErrorIs(t, err, ErrInvalidStatus, raw)
	}
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"Friday", "Monday", "Friday"})
	require.NoError(t, err)
	assert.Equal(t, Weekdays{"Monday", "Friday"}, days)

	_, err = ParseWeekdays(nil)
	assert.Error(t, err)

	_, err = ParseWeekdays([]string{"Funday"})
	assert.Error(t, err)
}

func TestWeekdaysColumn(t *testing.T) {
	v, err := Weekdays{"Sunday", "Wednesday"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["Sunday","Wednesday"]`, v)

	var w Weekdays
	require.NoError(t, w.Scan([]byte(`["Tuesday"]`)))
	assert.Equal(t, Weekdays{"Tuesday"}, w)

	require.NoError(t, w.Scan(nil))
	assert.Nil(t, w)

	assert.Error(t, w.Scan(42))
}
