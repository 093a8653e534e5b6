package config

import (
	"fmt"
	"time"
)

// Contains reports whether instant t (interpreted in UTC) falls inside the
// window, correctly handling windows that span midnight (e.g. start
// 23:50 for 30 minutes spans into the next day).
func (w MaintenanceWindow) Contains(t time.Time) bool {
	t = t.UTC()
	startMinute, err := parseHHMM(w.StartUTC)
	if err != nil {
		return false
	}
	nowMinute := t.Hour()*60 + t.Minute()
	endMinute := startMinute + w.Minutes

	if endMinute <= 24*60 {
		return nowMinute >= startMinute && nowMinute < endMinute
	}
	// Spans midnight: the window is [start, 1440) U [0, end-1440).
	wrappedEnd := endMinute - 24*60
	return nowMinute >= startMinute || nowMinute < wrappedEnd
}

func parseHHMM(s string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("config: invalid HH:MM %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("config: out-of-range HH:MM %q", s)
	}
	return hh*60 + mm, nil
}

// InAnyWindow reports whether t falls inside any of the given windows,
// and returns the matching window's start label for logging.
func InAnyWindow(windows []MaintenanceWindow, t time.Time) (MaintenanceWindow, bool) {
	for _, w := range windows {
		if w.Contains(t) {
			return w, true
		}
	}
	return MaintenanceWindow{}, false
}
