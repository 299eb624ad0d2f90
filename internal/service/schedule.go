package service

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// DateLayout is the format of the start and end dates given on the command line.
const DateLayout = "2006-01-02 15:04:05"

const fileLayout = "2006-01-02_1504"

// Clock supplies wall-clock time to the schedule.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ParseDate parses a DateLayout date in the local time zone.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, dates must look like YYYY-MM-DD HH:MM:SS", value)
	}
	return t, nil
}

// FileName names the recording that begins at t.
func FileName(t time.Time, ext string) string {
	return t.Format(fileLayout) + "." + ext
}

// intervalEnd returns the end of the interval starting at now: the next
// wall-clock hour, or end when it comes first. last reports whether the
// interval closes the session.
func intervalEnd(now, end time.Time) (until time.Time, last bool) {
	until = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Add(time.Hour)
	if !end.IsZero() && !end.After(until) {
		return end, true
	}
	return until, false
}

// availablePath returns the path to record the interval starting at t to.
// Unless overwrite is set an existing file gets a numeric suffix instead.
func availablePath(fs afero.Fs, dir string, t time.Time, ext string, overwrite bool) (string, error) {
	base := t.Format(fileLayout)
	path := filepath.Join(dir, base+"."+ext)
	if overwrite {
		return path, nil
	}

	for i := 1; ; i++ {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !exists {
			return path, nil
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.%s", base, i, ext))
	}
}
