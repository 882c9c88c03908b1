package record

import "strconv"

// Range is a half-open byte range [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by r.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Overlap returns the intersection of r and o. The second result is false if
// the ranges do not intersect.
func (r Range) Overlap(o Range) (Range, bool) {
	res := Range{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
	if res.Empty() {
		return Range{}, false
	}
	return res, true
}

func (r Range) String() string {
	return strconv.FormatUint(r.Start, 10) + ".." + strconv.FormatUint(r.End, 10)
}
