package storagelog

import (
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/record"
	"go.uber.org/zap"
)

// headMsg is a distinctive part of all messages.
const headMsg = "object store operation"

// Write writes message about object store's operation to logger.
func Write(logger *zap.Logger, fields ...zap.Field) {
	logger.Info(headMsg, fields...)
}

// OpField returns logger's field for operation type.
func OpField(op string) zap.Field {
	return zap.String("op", op)
}

// ObjectField returns logger's fields identifying an object attribute within
// a store.
func ObjectField(storeID, objectID, attributeID uint64) zap.Field {
	return zap.Dict("object",
		zap.Uint64("store", storeID),
		zap.Uint64("id", objectID),
		zap.Uint64("attribute", attributeID),
	)
}

// RangeField returns logger's field for a byte range.
func RangeField(name string, r record.Range) zap.Field {
	return zap.Stringer(name, r)
}

// DeviceOffsetField returns logger's field for a device offset.
func DeviceOffsetField(off uint64) zap.Field {
	return zap.Uint64("device_offset", off)
}

// SizeField returns logger's field for a byte count.
func SizeField(n uint64) zap.Field {
	return zap.Uint64("size", n)
}
