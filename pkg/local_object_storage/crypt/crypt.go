// Package crypt provides per-object encryption: an XTS cipher set keyed by
// file offset and the key wrapping interface used to persist object keys.
package crypt

import "context"

// UnwrappedKeySize is the size of an AES-256-XTS key.
const UnwrappedKeySize = 64

// WrappedKey is key material encrypted by a wrapping key.
type WrappedKey struct {
	WrappingKeyID uint64
	Key           []byte
}

// WrappedKeyEntry binds a wrapped key to the key ID used in extent records.
type WrappedKeyEntry struct {
	ID  uint64
	Key WrappedKey
}

// WrappedKeys is the persisted key set of an object.
type WrappedKeys []WrappedKeyEntry

// UnwrappedKey is plain key material.
type UnwrappedKey [UnwrappedKeySize]byte

// UnwrappedKeyEntry binds an unwrapped key to its key ID.
type UnwrappedKeyEntry struct {
	ID  uint64
	Key UnwrappedKey
}

// UnwrappedKeys is the in-memory key set of an object.
type UnwrappedKeys []UnwrappedKeyEntry

// Crypt creates and unwraps per-object keys. Wrapped keys are bound to the
// owner object ID: unwrapping them for another owner fails.
type Crypt interface {
	CreateKey(ctx context.Context, ownerID uint64) (WrappedKey, UnwrappedKey, error)
	UnwrapKeys(ctx context.Context, keys WrappedKeys, ownerID uint64) (UnwrappedKeys, error)
}
