// Package datekey formats calendar-day keys in device-local time.
package datekey

import "time"

const Layout = "2006-01-02"

// Key returns t formatted as YYYY-MM-DD in t's own location. Callers pass
// local wall-clock times so the key matches the device's calendar day.
func Key(t time.Time) string {
	return t.Format(Layout)
}

// Today returns the key for now in the local time zone.
func Today(now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	return Key(now().Local())
}

// Valid reports whether s parses as a YYYY-MM-DD key.
func Valid(s string) bool {
	_, err := time.Parse(Layout, s)
	return err == nil
}
