package crypt

import (
	"crypto/aes"
	"fmt"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"golang.org/x/crypto/xts"
)

// SectorSize is the XTS data unit. Offsets and lengths passed to the cipher
// set must be multiples of it.
const SectorSize = 512

// XtsCipherSet encrypts object data with AES-256-XTS. The tweak of every
// sector is its file offset divided by SectorSize, so equal plaintext at
// different offsets yields different ciphertext.
type XtsCipherSet struct {
	ciphers map[uint64]*xts.Cipher
}

// NewXtsCipherSet builds a cipher set from unwrapped keys.
func NewXtsCipherSet(keys UnwrappedKeys) (*XtsCipherSet, error) {
	s := &XtsCipherSet{ciphers: make(map[uint64]*xts.Cipher, len(keys))}
	for i := range keys {
		c, err := xts.NewCipher(aes.NewCipher, keys[i].Key[:])
		if err != nil {
			return nil, fmt.Errorf("init cipher for key %d: %w", keys[i].ID, err)
		}
		s.ciphers[keys[i].ID] = c
	}
	return s, nil
}

// Encrypt encrypts buf in place as the data located at file offset.
func (s *XtsCipherSet) Encrypt(offset, keyID uint64, buf []byte) error {
	c, err := s.prepare(offset, keyID, buf)
	if err != nil {
		return err
	}
	sector := offset / SectorSize
	for len(buf) > 0 {
		c.Encrypt(buf[:SectorSize], buf[:SectorSize], sector)
		buf = buf[SectorSize:]
		sector++
	}
	return nil
}

// Decrypt decrypts buf in place as the data located at file offset.
func (s *XtsCipherSet) Decrypt(offset, keyID uint64, buf []byte) error {
	c, err := s.prepare(offset, keyID, buf)
	if err != nil {
		return err
	}
	sector := offset / SectorSize
	for len(buf) > 0 {
		c.Decrypt(buf[:SectorSize], buf[:SectorSize], sector)
		buf = buf[SectorSize:]
		sector++
	}
	return nil
}

func (s *XtsCipherSet) prepare(offset, keyID uint64, buf []byte) (*xts.Cipher, error) {
	c, ok := s.ciphers[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: key id %d", fserr.ErrNotSupported, keyID)
	}
	if offset%SectorSize != 0 || len(buf)%SectorSize != 0 {
		return nil, fserr.InvalidArgs("encryption range %d+%d is not sector aligned", offset, len(buf))
	}
	return c, nil
}
