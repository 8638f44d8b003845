package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClock_AdvanceFiresExpiredTimers(t *testing.T) {
	start := time.Date(2025, 1, 15, 4, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	fired := 0
	c.AfterFunc(15*time.Second, func() { fired++ })
	assert.Equal(t, 1, c.PendingTimers())

	c.Advance(14 * time.Second)
	assert.Equal(t, 0, fired)

	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.PendingTimers())
	assert.Equal(t, start.Add(15*time.Second), c.Now())
}

func TestMockClock_StopPreventsFire(t *testing.T) {
	c := NewMockClock(time.Date(2025, 1, 15, 4, 0, 0, 0, time.UTC))

	fired := false
	timer := c.AfterFunc(time.Minute, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.PendingTimers())
}

func TestMockClock_After(t *testing.T) {
	c := NewMockClock(time.Date(2025, 1, 15, 4, 0, 0, 0, time.UTC))
	ch := c.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("channel fired before advance")
	default:
	}

	c.Advance(10 * time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, c.Now(), got)
	default:
		t.Fatal("channel did not fire after advance")
	}
}

func TestMockClock_SetBackwardsDoesNotFire(t *testing.T) {
	start := time.Date(2025, 1, 15, 4, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	fired := false
	c.AfterFunc(time.Second, func() { fired = true })
	c.Set(start.Add(-time.Hour))

	assert.False(t, fired)
	assert.Equal(t, start.Add(-time.Hour), c.Now())
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "06:00:00", want: TimeOfDay{Hour: 6}},
		{in: "04:59:59", want: TimeOfDay{Hour: 4, Minute: 59, Second: 59}},
		{in: "22:30", want: TimeOfDay{Hour: 22, Minute: 30}},
		{in: " 23:00:00 ", want: TimeOfDay{Hour: 23}},
		{in: "25:00:00", wantErr: true},
		{in: "", wantErr: true},
		{in: "noon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextOccurrence(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	now := time.Date(2025, 1, 15, 4, 0, 0, 0, loc)

	assert.Equal(t, time.Date(2025, 1, 15, 4, 59, 59, 0, loc), NextOccurrence(now, MustParseTimeOfDay("04:59:59")))
	// Exactly now rolls to tomorrow
	assert.Equal(t, time.Date(2025, 1, 16, 4, 0, 0, 0, loc), NextOccurrence(now, MustParseTimeOfDay("04:00:00")))
	assert.Equal(t, time.Date(2025, 1, 16, 3, 0, 0, 0, loc), NextOccurrence(now, MustParseTimeOfDay("03:00:00")))
}

func TestTimeOfDay_StringAndFormat(t *testing.T) {
	assert.Equal(t, "06:05:00", TimeOfDay{Hour: 6, Minute: 5}.String())
	assert.Equal(t, "05:45:00", FormatTimeOfDay(time.Date(2025, 1, 15, 5, 45, 0, 0, time.UTC)))
}
