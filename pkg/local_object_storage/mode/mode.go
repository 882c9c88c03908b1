package mode

// Mode represents enumeration of filesystem work modes.
type Mode uint32

const (
	// ReadWrite is a Mode value for filesystem that is available
	// for read and write operations. Default mode.
	ReadWrite Mode = iota

	// ReadOnly is a Mode value for filesystem that does not
	// accept new transactions but is readable.
	ReadOnly

	// Degraded is a Mode value for filesystem that is set automatically
	// after a commit failed half-way. It is the same as `mode.ReadOnly`
	// but also stops background flushes, so that in-memory records which
	// may be inconsistent never reach the disk.
	Degraded
)

func (m Mode) String() string {
	switch m {
	default:
		return "UNDEFINED"
	case ReadWrite:
		return "READ_WRITE"
	case ReadOnly:
		return "READ_ONLY"
	case Degraded:
		return "DEGRADED"
	}
}

// ReadOnly returns true if m rejects new transactions.
func (m Mode) ReadOnly() bool {
	return m != ReadWrite
}

// NoFlush returns true if in-memory records must not be persisted in mode m.
func (m Mode) NoFlush() bool {
	return m == Degraded
}
