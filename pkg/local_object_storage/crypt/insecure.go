package crypt

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// insecureWrappingKeyID identifies the built-in wrapping key.
const insecureWrappingKeyID = 0x1234567812345678

var insecureWrappingKey = [chacha20poly1305.KeySize]byte{
	0xcf, 0x9e, 0x45, 0x2a, 0x22, 0xa5, 0x70, 0x31, 0x33, 0x3b, 0x4d, 0x6b, 0x6f, 0x78, 0x6a, 0x05,
	0x39, 0x2b, 0x57, 0x8e, 0x0e, 0x42, 0x0f, 0x9c, 0x83, 0x2d, 0x3f, 0x26, 0xd4, 0x5c, 0x13, 0x88,
}

// InsecureCrypt wraps keys with a key compiled into the binary. It is meant
// for tests and tooling, never for protecting real data.
type InsecureCrypt struct{}

// NewInsecureCrypt returns an InsecureCrypt.
func NewInsecureCrypt() *InsecureCrypt {
	return &InsecureCrypt{}
}

// CreateKey implements Crypt.
func (c *InsecureCrypt) CreateKey(_ context.Context, ownerID uint64) (WrappedKey, UnwrappedKey, error) {
	var key UnwrappedKey
	if _, err := rand.Read(key[:]); err != nil {
		return WrappedKey{}, key, fmt.Errorf("generate key: %w", err)
	}
	aead, err := chacha20poly1305.New(insecureWrappingKey[:])
	if err != nil {
		return WrappedKey{}, key, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(key)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return WrappedKey{}, key, fmt.Errorf("generate nonce: %w", err)
	}
	wrapped := aead.Seal(nonce, nonce, key[:], ownerData(ownerID))
	return WrappedKey{WrappingKeyID: insecureWrappingKeyID, Key: wrapped}, key, nil
}

// UnwrapKeys implements Crypt.
func (c *InsecureCrypt) UnwrapKeys(_ context.Context, keys WrappedKeys, ownerID uint64) (UnwrappedKeys, error) {
	aead, err := chacha20poly1305.New(insecureWrappingKey[:])
	if err != nil {
		return nil, err
	}
	res := make(UnwrappedKeys, 0, len(keys))
	for _, k := range keys {
		if k.Key.WrappingKeyID != insecureWrappingKeyID {
			return nil, fmt.Errorf("unknown wrapping key %d", k.Key.WrappingKeyID)
		}
		if len(k.Key.Key) < aead.NonceSize() {
			return nil, fmt.Errorf("wrapped key %d is too short", k.ID)
		}
		nonce, sealed := k.Key.Key[:aead.NonceSize()], k.Key.Key[aead.NonceSize():]
		plain, err := aead.Open(nil, nonce, sealed, ownerData(ownerID))
		if err != nil {
			return nil, fmt.Errorf("unwrap key %d: %w", k.ID, err)
		}
		if len(plain) != UnwrappedKeySize {
			return nil, fmt.Errorf("unwrapped key %d has %d bytes", k.ID, len(plain))
		}
		entry := UnwrappedKeyEntry{ID: k.ID}
		copy(entry.Key[:], plain)
		res = append(res, entry)
	}
	return res, nil
}

func ownerData(ownerID uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, ownerID)
}
