package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceWindowContainsSimple(t *testing.T) {
	w := MaintenanceWindow{StartUTC: "02:00", Minutes: 30}
	at := time.Date(2026, 1, 1, 2, 15, 0, 0, time.UTC)
	assert.True(t, w.Contains(at))

	outside := time.Date(2026, 1, 1, 2, 45, 0, 0, time.UTC)
	assert.False(t, w.Contains(outside))
}

func TestMaintenanceWindowSpansMidnight(t *testing.T) {
	w := MaintenanceWindow{StartUTC: "23:50", Minutes: 30}

	beforeMidnight := time.Date(2026, 1, 1, 23, 55, 0, 0, time.UTC)
	assert.True(t, w.Contains(beforeMidnight))

	afterMidnight := time.Date(2026, 1, 2, 0, 10, 0, 0, time.UTC)
	assert.True(t, w.Contains(afterMidnight))

	outside := time.Date(2026, 1, 2, 0, 25, 0, 0, time.UTC)
	assert.False(t, w.Contains(outside))
}

func TestParseMaintenanceWindows(t *testing.T) {
	windows, err := parseMaintenanceWindows([]string{"02:00/30", "14:00/15"})
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, "02:00", windows[0].StartUTC)
	assert.Equal(t, 30, windows[0].Minutes)
}

func TestInAnyWindow(t *testing.T) {
	windows := []MaintenanceWindow{{StartUTC: "02:00", Minutes: 30}}
	_, ok := InAnyWindow(windows, time.Date(2026, 1, 1, 2, 15, 0, 0, time.UTC))
	assert.True(t, ok)

	_, ok = InAnyWindow(windows, time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}
