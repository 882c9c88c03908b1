package record

import (
	"fmt"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/crypt"
)

// DefaultDataAttributeID is the attribute holding file contents.
const DefaultDataAttributeID = 0

// ObjectKeyKind selects which record of an object a key addresses.
type ObjectKeyKind uint8

const (
	// KeyObject addresses the object record itself.
	KeyObject ObjectKeyKind = iota
	// KeyKeys addresses the wrapped encryption keys of the object.
	KeyKeys
	// KeyAttribute addresses the size record of one attribute.
	KeyAttribute
)

// ObjectKey addresses a record in the object tree.
type ObjectKey struct {
	ObjectID    uint64
	Kind        ObjectKeyKind
	AttributeID uint64
}

// ObjectRecordKey returns the key of the object record.
func ObjectRecordKey(objectID uint64) ObjectKey {
	return ObjectKey{ObjectID: objectID, Kind: KeyObject}
}

// AttributeKey returns the key of an attribute size record.
func AttributeKey(objectID, attributeID uint64) ObjectKey {
	return ObjectKey{ObjectID: objectID, Kind: KeyAttribute, AttributeID: attributeID}
}

// KeysKey returns the key of the wrapped keys record.
func KeysKey(objectID uint64) ObjectKey {
	return ObjectKey{ObjectID: objectID, Kind: KeyKeys}
}

func (k ObjectKey) String() string {
	switch k.Kind {
	case KeyObject:
		return fmt.Sprintf("%d/object", k.ObjectID)
	case KeyKeys:
		return fmt.Sprintf("%d/keys", k.ObjectID)
	default:
		return fmt.Sprintf("%d/attr/%d", k.ObjectID, k.AttributeID)
	}
}

// ObjectKind is the kind of an object record.
type ObjectKind uint8

const (
	_ ObjectKind = iota
	// KindFile is a regular data object.
	KindFile
	// KindDirectory is a directory object. Directory semantics live above
	// this layer; the kind exists so that file-only operations can reject it.
	KindDirectory
)

func (k ObjectKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// ObjectValueKind discriminates ObjectValue variants.
type ObjectValueKind uint8

const (
	// ValueNone marks a deleted record.
	ValueNone ObjectValueKind = iota
	// ValueObject is an object record.
	ValueObject
	// ValueAttribute is an attribute size record.
	ValueAttribute
	// ValueKeys holds wrapped encryption keys.
	ValueKeys
)

// ObjectAttributes are the timestamps of an object.
type ObjectAttributes struct {
	CreationTime     Timestamp
	ModificationTime Timestamp
}

// ObjectValue is a value of the object tree. Only the fields of the variant
// selected by Kind are meaningful.
type ObjectValue struct {
	Kind ObjectValueKind

	// ValueObject.
	ObjectKind    ObjectKind
	Refs          uint64
	AllocatedSize uint64
	Attributes    ObjectAttributes

	// ValueAttribute.
	Size uint64

	// ValueKeys.
	Keys crypt.WrappedKeys
}

// FileValue returns an object record of a file.
func FileValue(allocatedSize, refs uint64, crtime, mtime Timestamp) ObjectValue {
	return ObjectValue{
		Kind:          ValueObject,
		ObjectKind:    KindFile,
		Refs:          refs,
		AllocatedSize: allocatedSize,
		Attributes:    ObjectAttributes{CreationTime: crtime, ModificationTime: mtime},
	}
}

// DirectoryValue returns an object record of a directory.
func DirectoryValue(crtime, mtime Timestamp) ObjectValue {
	return ObjectValue{
		Kind:       ValueObject,
		ObjectKind: KindDirectory,
		Attributes: ObjectAttributes{CreationTime: crtime, ModificationTime: mtime},
	}
}

// AttributeValue returns a size record.
func AttributeValue(size uint64) ObjectValue {
	return ObjectValue{Kind: ValueAttribute, Size: size}
}

// KeysValue returns a wrapped keys record.
func KeysValue(keys crypt.WrappedKeys) ObjectValue {
	return ObjectValue{Kind: ValueKeys, Keys: keys}
}

// NoneValue returns a deleted record.
func NoneValue() ObjectValue {
	return ObjectValue{Kind: ValueNone}
}

// IsFile reports whether v is an object record of a file.
func (v ObjectValue) IsFile() bool {
	return v.Kind == ValueObject && v.ObjectKind == KindFile
}

// ObjectItem is a key/value pair of the object tree.
type ObjectItem struct {
	Key   ObjectKey
	Value ObjectValue
}
