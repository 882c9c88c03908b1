package objectstore

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"go.etcd.io/bbolt"
)

// version contains current metadata version.
const version = 0

var (
	infoBucket = []byte("info")

	versionKey      = []byte("version")
	idKey           = []byte("id")
	blockSizeKey    = []byte("block_size")
	deviceSizeKey   = []byte("device_size")
	lastObjectIDKey = []byte("last_object_id")
)

// Info describes a formatted filesystem.
type Info struct {
	ID           uuid.UUID
	Version      uint64
	BlockSize    uint32
	DeviceSize   uint64
	LastObjectID uint64
}

func putUint64(b *bbolt.Bucket, key []byte, v uint64) error {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, v)
	return b.Put(key, data)
}

func getUint64(b *bbolt.Bucket, key []byte) (uint64, error) {
	data := b.Get(key)
	if len(data) != 8 {
		return 0, fserr.Inconsistent("invalid %s record of %d bytes", key, len(data))
	}
	return binary.LittleEndian.Uint64(data), nil
}

func writeInfo(tx *bbolt.Tx, info Info) error {
	b, err := tx.CreateBucketIfNotExists(infoBucket)
	if err != nil {
		return fmt.Errorf("can't create info bucket: %w", err)
	}
	id, _ := info.ID.MarshalBinary()
	if err := b.Put(idKey, id); err != nil {
		return err
	}
	if err := putUint64(b, versionKey, info.Version); err != nil {
		return err
	}
	if err := putUint64(b, blockSizeKey, uint64(info.BlockSize)); err != nil {
		return err
	}
	if err := putUint64(b, deviceSizeKey, info.DeviceSize); err != nil {
		return err
	}
	return putUint64(b, lastObjectIDKey, info.LastObjectID)
}

func updateLastObjectID(tx *bbolt.Tx, id uint64) error {
	b := tx.Bucket(infoBucket)
	if b == nil {
		return fserr.Inconsistent("info bucket is missing")
	}
	return putUint64(b, lastObjectIDKey, id)
}

// errNotFormatted is returned by readInfo for empty metadata.
var errNotFormatted = fmt.Errorf("%w: filesystem is not formatted", fserr.ErrNotFound)

func readInfo(tx *bbolt.Tx) (Info, error) {
	var info Info

	b := tx.Bucket(infoBucket)
	if b == nil {
		return info, errNotFormatted
	}

	var err error
	info.Version, err = getUint64(b, versionKey)
	if err != nil {
		return info, err
	}
	if info.Version != version {
		return info, fmt.Errorf("invalid version: expected=%d, stored=%d", version, info.Version)
	}
	if err := info.ID.UnmarshalBinary(b.Get(idKey)); err != nil {
		return info, fserr.Inconsistent("invalid filesystem id: %v", err)
	}
	bs, err := getUint64(b, blockSizeKey)
	if err != nil {
		return info, err
	}
	info.BlockSize = uint32(bs)
	if info.DeviceSize, err = getUint64(b, deviceSizeKey); err != nil {
		return info, err
	}
	if info.LastObjectID, err = getUint64(b, lastObjectIDKey); err != nil {
		return info, err
	}
	return info, nil
}
