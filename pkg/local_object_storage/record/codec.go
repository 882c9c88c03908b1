package record

import (
	"encoding/binary"
	"math"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/crypt"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
)

// Keys are encoded big-endian so that byte order equals key order; values use
// little-endian like the rest of the on-disk counters.

const (
	extentKeySize = 32
	objectKeySize = 17
)

// ExtentCodec encodes extent tree items.
type ExtentCodec struct{}

// EncodeKey implements lsm.Codec.
func (ExtentCodec) EncodeKey(k ExtentKey) []byte {
	b := make([]byte, extentKeySize)
	binary.BigEndian.PutUint64(b, k.ObjectID)
	binary.BigEndian.PutUint64(b[8:], k.AttributeID)
	binary.BigEndian.PutUint64(b[16:], k.Range.End)
	binary.BigEndian.PutUint64(b[24:], k.Range.Start)
	return b
}

// DecodeKey implements lsm.Codec.
func (ExtentCodec) DecodeKey(b []byte) (ExtentKey, error) {
	if len(b) != extentKeySize {
		return ExtentKey{}, fserr.Inconsistent("extent key of %d bytes", len(b))
	}
	return ExtentKey{
		ObjectID:    binary.BigEndian.Uint64(b),
		AttributeID: binary.BigEndian.Uint64(b[8:]),
		Range: Range{
			End:   binary.BigEndian.Uint64(b[16:]),
			Start: binary.BigEndian.Uint64(b[24:]),
		},
	}, nil
}

const (
	extentDeleted byte = iota
	extentSome
)

// EncodeValue implements lsm.Codec.
func (ExtentCodec) EncodeValue(v ExtentValue) ([]byte, error) {
	if v.Deleted {
		return []byte{extentDeleted}, nil
	}
	if len(v.Checksums.Fletcher) > math.MaxUint32 {
		return nil, fserr.TooBig("%d checksums", len(v.Checksums.Fletcher))
	}
	b := make([]byte, 1+8+8+1+4+8*len(v.Checksums.Fletcher))
	b[0] = extentSome
	binary.LittleEndian.PutUint64(b[1:], v.DeviceOffset)
	binary.LittleEndian.PutUint64(b[9:], v.KeyID)
	if !v.Checksums.IsNone() {
		b[17] = 1
	}
	binary.LittleEndian.PutUint32(b[18:], uint32(len(v.Checksums.Fletcher)))
	for i, s := range v.Checksums.Fletcher {
		binary.LittleEndian.PutUint64(b[22+8*i:], s)
	}
	return b, nil
}

// DecodeValue implements lsm.Codec.
func (ExtentCodec) DecodeValue(b []byte) (ExtentValue, error) {
	if len(b) == 0 {
		return ExtentValue{}, fserr.Inconsistent("empty extent value")
	}
	switch b[0] {
	case extentDeleted:
		return DeletedExtentValue(), nil
	case extentSome:
	default:
		return ExtentValue{}, fserr.Inconsistent("unknown extent value tag %d", b[0])
	}
	if len(b) < 22 {
		return ExtentValue{}, fserr.Inconsistent("short extent value: %d bytes", len(b))
	}
	v := ExtentValue{
		DeviceOffset: binary.LittleEndian.Uint64(b[1:]),
		KeyID:        binary.LittleEndian.Uint64(b[9:]),
	}
	n := int(binary.LittleEndian.Uint32(b[18:]))
	if len(b) != 22+8*n {
		return ExtentValue{}, fserr.Inconsistent("extent value with %d checksums has %d bytes", n, len(b))
	}
	if b[17] != 0 {
		sums := make([]uint64, n)
		for i := range sums {
			sums[i] = binary.LittleEndian.Uint64(b[22+8*i:])
		}
		v.Checksums = Checksums{Fletcher: sums}
	}
	return v, nil
}

// ObjectCodec encodes object tree items.
type ObjectCodec struct{}

// EncodeKey implements lsm.Codec.
func (ObjectCodec) EncodeKey(k ObjectKey) []byte {
	b := make([]byte, objectKeySize)
	binary.BigEndian.PutUint64(b, k.ObjectID)
	b[8] = byte(k.Kind)
	binary.BigEndian.PutUint64(b[9:], k.AttributeID)
	return b
}

// DecodeKey implements lsm.Codec.
func (ObjectCodec) DecodeKey(b []byte) (ObjectKey, error) {
	if len(b) != objectKeySize {
		return ObjectKey{}, fserr.Inconsistent("object key of %d bytes", len(b))
	}
	return ObjectKey{
		ObjectID:    binary.BigEndian.Uint64(b),
		Kind:        ObjectKeyKind(b[8]),
		AttributeID: binary.BigEndian.Uint64(b[9:]),
	}, nil
}

// EncodeValue implements lsm.Codec.
func (ObjectCodec) EncodeValue(v ObjectValue) ([]byte, error) {
	switch v.Kind {
	case ValueNone:
		return []byte{byte(ValueNone)}, nil
	case ValueObject:
		b := make([]byte, 2+8+8+2*12)
		b[0] = byte(ValueObject)
		b[1] = byte(v.ObjectKind)
		binary.LittleEndian.PutUint64(b[2:], v.Refs)
		binary.LittleEndian.PutUint64(b[10:], v.AllocatedSize)
		putTimestamp(b[18:], v.Attributes.CreationTime)
		putTimestamp(b[30:], v.Attributes.ModificationTime)
		return b, nil
	case ValueAttribute:
		b := make([]byte, 9)
		b[0] = byte(ValueAttribute)
		binary.LittleEndian.PutUint64(b[1:], v.Size)
		return b, nil
	case ValueKeys:
		b := []byte{byte(ValueKeys)}
		b = binary.LittleEndian.AppendUint32(b, uint32(len(v.Keys)))
		for _, k := range v.Keys {
			b = binary.LittleEndian.AppendUint64(b, k.ID)
			b = binary.LittleEndian.AppendUint64(b, k.Key.WrappingKeyID)
			b = binary.LittleEndian.AppendUint32(b, uint32(len(k.Key.Key)))
			b = append(b, k.Key.Key...)
		}
		return b, nil
	default:
		return nil, fserr.InvalidArgs("unknown object value kind %d", v.Kind)
	}
}

// DecodeValue implements lsm.Codec.
func (ObjectCodec) DecodeValue(b []byte) (ObjectValue, error) {
	if len(b) == 0 {
		return ObjectValue{}, fserr.Inconsistent("empty object value")
	}
	switch ObjectValueKind(b[0]) {
	case ValueNone:
		return NoneValue(), nil
	case ValueObject:
		if len(b) != 42 {
			return ObjectValue{}, fserr.Inconsistent("object record of %d bytes", len(b))
		}
		return ObjectValue{
			Kind:          ValueObject,
			ObjectKind:    ObjectKind(b[1]),
			Refs:          binary.LittleEndian.Uint64(b[2:]),
			AllocatedSize: binary.LittleEndian.Uint64(b[10:]),
			Attributes: ObjectAttributes{
				CreationTime:     getTimestamp(b[18:]),
				ModificationTime: getTimestamp(b[30:]),
			},
		}, nil
	case ValueAttribute:
		if len(b) != 9 {
			return ObjectValue{}, fserr.Inconsistent("attribute record of %d bytes", len(b))
		}
		return AttributeValue(binary.LittleEndian.Uint64(b[1:])), nil
	case ValueKeys:
		return decodeKeys(b[1:])
	default:
		return ObjectValue{}, fserr.Inconsistent("unknown object value kind %d", b[0])
	}
}

func decodeKeys(b []byte) (ObjectValue, error) {
	if len(b) < 4 {
		return ObjectValue{}, fserr.Inconsistent("short keys record")
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	keys := make(crypt.WrappedKeys, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < 20 {
			return ObjectValue{}, fserr.Inconsistent("truncated keys record")
		}
		entry := crypt.WrappedKeyEntry{
			ID:  binary.LittleEndian.Uint64(b),
			Key: crypt.WrappedKey{WrappingKeyID: binary.LittleEndian.Uint64(b[8:])},
		}
		l := int(binary.LittleEndian.Uint32(b[16:]))
		b = b[20:]
		if len(b) < l {
			return ObjectValue{}, fserr.Inconsistent("truncated wrapped key")
		}
		entry.Key.Key = append([]byte(nil), b[:l]...)
		b = b[l:]
		keys = append(keys, entry)
	}
	if len(b) != 0 {
		return ObjectValue{}, fserr.Inconsistent("%d trailing bytes in keys record", len(b))
	}
	return KeysValue(keys), nil
}

func putTimestamp(b []byte, t Timestamp) {
	binary.LittleEndian.PutUint64(b, t.Secs)
	binary.LittleEndian.PutUint32(b[8:], t.Nanos)
}

func getTimestamp(b []byte) Timestamp {
	return Timestamp{Secs: binary.LittleEndian.Uint64(b), Nanos: binary.LittleEndian.Uint32(b[8:])}
}
