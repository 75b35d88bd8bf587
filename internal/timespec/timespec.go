// Package timespec implements absolute wall-clock deadlines as normalized
// seconds/nanoseconds pairs.
package timespec

import "time"

const nsecPerSec = int64(time.Second)

// Timespec is an absolute timestamp. Nsec is always in [0, 1e9).
type Timespec struct {
	Sec  int64
	Nsec int64
}

// FromTime converts t.
func FromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Time converts ts back to a time.Time in the local zone.
func (ts Timespec) Time() time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}

// Add returns ts moved forward by d (backwards when d is negative).
func (ts Timespec) Add(d time.Duration) Timespec {
	n := int64(d)
	return normalize(ts.Sec+n/nsecPerSec, ts.Nsec+n%nsecPerSec)
}

// Sub returns ts moved backwards by d.
func (ts Timespec) Sub(d time.Duration) Timespec {
	n := int64(d)
	return normalize(ts.Sec-n/nsecPerSec, ts.Nsec-n%nsecPerSec)
}

// Since returns the duration from o to ts.
func (ts Timespec) Since(o Timespec) time.Duration {
	return time.Duration((ts.Sec-o.Sec)*nsecPerSec + (ts.Nsec - o.Nsec))
}

// Before reports whether ts is earlier than o.
func (ts Timespec) Before(o Timespec) bool {
	return ts.Sec < o.Sec || (ts.Sec == o.Sec && ts.Nsec < o.Nsec)
}

// normalize carries nsec into sec. |nsec| is below 2e9 for every caller.
func normalize(sec, nsec int64) Timespec {
	if nsec >= nsecPerSec {
		sec++
		nsec -= nsecPerSec
	} else if nsec < 0 {
		sec--
		nsec += nsecPerSec
	}
	return Timespec{Sec: sec, Nsec: nsec}
}
