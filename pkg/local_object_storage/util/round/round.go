// Package round provides block alignment arithmetic with overflow detection.
package round

// Down rounds v down to a multiple of bs.
func Down(v, bs uint64) uint64 {
	return v - v%bs
}

// Up rounds v up to a multiple of bs. The second result is false if the
// rounded value does not fit into uint64.
func Up(v, bs uint64) (uint64, bool) {
	rem := v % bs
	if rem == 0 {
		return v, true
	}
	add := bs - rem
	if v > ^uint64(0)-add {
		return 0, false
	}
	return v + add, true
}

// Aligned reports whether v is a multiple of bs.
func Aligned(v, bs uint64) bool {
	return v%bs == 0
}
