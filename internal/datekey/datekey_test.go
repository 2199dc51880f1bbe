package datekey

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	ts := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-01-01", Format(ts, nil))
	assert.Equal(t, "2024-01-01", Format(ts, time.UTC))

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", Format(ts, tokyo))
}

func TestParse(t *testing.T) {
	d, err := Parse("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: 2, Day: 29}, d)
	assert.Equal(t, "2024-02-29", d.String())

	bad := []string{
		"", "2024-1-01", "2024/01/01", "2023-02-29", "2024-13-01",
		"2024-00-10", "2024-04-31", "abcd-ef-gh", "2024-01-01T00:00", " 2024-01-01",
	}
	for _, key := range bad {
		_, err := Parse(key)
		assert.Error(t, err, "Parse(%q)", key)
		assert.False(t, Valid(key))
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2024-01-01", "2024-01-02", 1},
		{"2024-01-02", "2024-01-01", -1},
		{"2024-01-01", "2024-01-01", 0},
		{"2023-12-31", "2024-01-01", 1},
		{"2024-02-28", "2024-03-01", 2},
		{"2023-02-28", "2023-03-01", 1},
		{"1999-12-31", "2000-03-01", 61},
		{"1970-01-01", "2024-01-01", 19723},
	}
	for _, tt := range tests {
		got, ok := DaysBetween(tt.from, tt.to)
		require.True(t, ok, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}

	_, ok := DaysBetween("garbage", "2024-01-01")
	assert.False(t, ok)
	_, ok = DaysBetween("2024-01-01", "")
	assert.False(t, ok)
}

func TestAddDays_roundTrip(t *testing.T) {
	key := "1969-12-25"
	for i := 0; i < 800; i++ {
		next, err := AddDays(key, 1)
		require.NoError(t, err)
		n, ok := DaysBetween(key, next)
		require.True(t, ok)
		require.Equal(t, 1, n, "%s -> %s", key, next)
		require.True(t, Valid(next))
		key = next
	}
	assert.Equal(t, "1972-03-04", key)

	back, err := AddDays("2024-03-01", -1)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", back)
}

// A 23-hour day across the spring-forward transition still counts as one day.
func TestDaysBetween_dstTransition(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	before := time.Date(2024, 3, 9, 23, 30, 0, 0, ny)
	after := before.Add(23 * time.Hour) // 2024-03-10 23:30 EDT

	from := Format(before, ny)
	to := Format(after, ny)
	assert.Equal(t, "2024-03-10", to)

	n, ok := DaysBetween(from, to)
	require.True(t, ok)
	assert.Equal(t, 1, n)
}
