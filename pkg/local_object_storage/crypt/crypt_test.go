package crypt

import (
	"bytes"
	"context"
	"testing"

	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/stretchr/testify/require"
)

func newCipherSet(t *testing.T, ownerID uint64) (*XtsCipherSet, WrappedKey) {
	c := NewInsecureCrypt()
	wrapped, key, err := c.CreateKey(context.Background(), ownerID)
	require.NoError(t, err)
	set, err := NewXtsCipherSet(UnwrappedKeys{{ID: 0, Key: key}})
	require.NoError(t, err)
	return set, wrapped
}

func TestXtsCipherSet(t *testing.T) {
	set, _ := newCipherSet(t, 1)

	plain := bytes.Repeat([]byte("fxfs"), 256) // two sectors
	buf := bytes.Clone(plain)
	require.NoError(t, set.Encrypt(4096, 0, buf))
	require.NotEqual(t, plain, buf)

	t.Run("offset is the tweak", func(t *testing.T) {
		other := bytes.Clone(plain)
		require.NoError(t, set.Encrypt(8192, 0, other))
		require.NotEqual(t, buf, other)
		// Identical sectors at different offsets differ.
		require.NotEqual(t, buf[:SectorSize], buf[SectorSize:])
	})

	t.Run("decrypt", func(t *testing.T) {
		dec := bytes.Clone(buf)
		require.NoError(t, set.Decrypt(4096, 0, dec))
		require.Equal(t, plain, dec)

		// Decrypting a single sector at its own offset works too.
		dec = bytes.Clone(buf[SectorSize:])
		require.NoError(t, set.Decrypt(4096+SectorSize, 0, dec))
		require.Equal(t, plain[SectorSize:], dec)
	})

	t.Run("unknown key id", func(t *testing.T) {
		require.ErrorIs(t, set.Encrypt(0, 1, make([]byte, SectorSize)), fserr.ErrNotSupported)
	})

	t.Run("misaligned", func(t *testing.T) {
		require.ErrorIs(t, set.Encrypt(100, 0, make([]byte, SectorSize)), fserr.ErrInvalidArgs)
		require.ErrorIs(t, set.Decrypt(0, 0, make([]byte, 100)), fserr.ErrInvalidArgs)
	})
}

func TestInsecureCrypt(t *testing.T) {
	ctx := context.Background()
	c := NewInsecureCrypt()

	wrapped, key, err := c.CreateKey(ctx, 42)
	require.NoError(t, err)

	keys, err := c.UnwrapKeys(ctx, WrappedKeys{{ID: 0, Key: wrapped}}, 42)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, key, keys[0].Key)

	_, err = c.UnwrapKeys(ctx, WrappedKeys{{ID: 0, Key: wrapped}}, 43)
	require.Error(t, err)

	wrapped.WrappingKeyID++
	_, err = c.UnwrapKeys(ctx, WrappedKeys{{ID: 0, Key: wrapped}}, 42)
	require.Error(t, err)
}
