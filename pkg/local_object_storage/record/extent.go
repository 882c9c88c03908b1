package record

import (
	"fmt"
)

// ExtentKey addresses a logical byte range of an object attribute.
//
// Keys order by object ID, attribute ID, range end and range start. Extents of
// one attribute never overlap, so ordering by end is the same as ordering by
// start for committed extents.
type ExtentKey struct {
	ObjectID    uint64
	AttributeID uint64
	Range       Range
}

// NewExtentKey constructs an ExtentKey.
func NewExtentKey(objectID, attributeID uint64, r Range) ExtentKey {
	return ExtentKey{ObjectID: objectID, AttributeID: attributeID, Range: r}
}

// ExtentSearchKey returns the key that positions an iterator at the first
// extent of the attribute ending after offset.
func ExtentSearchKey(objectID, attributeID, offset uint64) ExtentKey {
	return ExtentKey{ObjectID: objectID, AttributeID: attributeID, Range: Range{Start: 0, End: offset + 1}}
}

// SearchKey returns the key that positions an iterator at the first extent
// that may overlap k.
func (k ExtentKey) SearchKey() ExtentKey {
	return ExtentSearchKey(k.ObjectID, k.AttributeID, k.Range.Start)
}

// SameAttribute reports whether k belongs to the given object attribute.
func (k ExtentKey) SameAttribute(objectID, attributeID uint64) bool {
	return k.ObjectID == objectID && k.AttributeID == attributeID
}

func (k ExtentKey) String() string {
	return fmt.Sprintf("%d/%d/%s", k.ObjectID, k.AttributeID, k.Range)
}

// Checksums holds per-block fletcher64 checksums of an extent. A nil list
// means the extent carries no checksums.
type Checksums struct {
	Fletcher []uint64
}

// IsNone reports whether no checksums are present.
func (c Checksums) IsNone() bool {
	return c.Fletcher == nil
}

// ExtentValue is either a deleted marker or a mapping to device storage.
type ExtentValue struct {
	Deleted      bool
	DeviceOffset uint64
	Checksums    Checksums
	KeyID        uint64
}

// NewExtentValue maps an extent onto device storage without checksums.
func NewExtentValue(deviceOffset uint64) ExtentValue {
	return ExtentValue{DeviceOffset: deviceOffset}
}

// ExtentValueWithChecksums maps an extent onto device storage with per-block
// checksums.
func ExtentValueWithChecksums(deviceOffset uint64, sums []uint64) ExtentValue {
	return ExtentValue{DeviceOffset: deviceOffset, Checksums: Checksums{Fletcher: sums}}
}

// DeletedExtentValue marks a range whose storage was reclaimed.
func DeletedExtentValue() ExtentValue {
	return ExtentValue{Deleted: true}
}

// Slice returns the value describing the sub-extent that starts delta bytes
// into the extent and is length bytes long. delta and length must be multiples
// of blockSize.
func (v ExtentValue) Slice(delta, length, blockSize uint64) (ExtentValue, error) {
	if v.Deleted {
		return v, nil
	}
	res := ExtentValue{DeviceOffset: v.DeviceOffset + delta, KeyID: v.KeyID}
	if !v.Checksums.IsNone() {
		from, to := delta/blockSize, (delta+length)/blockSize
		if to > uint64(len(v.Checksums.Fletcher)) {
			return ExtentValue{}, fmt.Errorf("checksums cover %d blocks, need %d", len(v.Checksums.Fletcher), to)
		}
		sums := make([]uint64, to-from)
		copy(sums, v.Checksums.Fletcher[from:to])
		res.Checksums = Checksums{Fletcher: sums}
	}
	return res, nil
}

// ExtentItem is a key/value pair of the extent tree.
type ExtentItem struct {
	Key   ExtentKey
	Value ExtentValue
}
