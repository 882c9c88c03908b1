package record

import "time"

// Timestamp is a wall-clock time stored in object records.
type Timestamp struct {
	Secs  uint64
	Nanos uint32
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return FromTime(time.Now())
}

// FromTime converts t, which must not precede the Unix epoch.
func FromTime(t time.Time) Timestamp {
	return FromNanos(uint64(t.UnixNano()))
}

// FromNanos builds a Timestamp from nanoseconds since the Unix epoch.
func FromNanos(n uint64) Timestamp {
	return Timestamp{Secs: n / uint64(time.Second), Nanos: uint32(n % uint64(time.Second))}
}

// AsNanos returns the number of nanoseconds since the Unix epoch.
func (t Timestamp) AsNanos() uint64 {
	return t.Secs*uint64(time.Second) + uint64(t.Nanos)
}

// Time converts t into time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Secs), int64(t.Nanos))
}
