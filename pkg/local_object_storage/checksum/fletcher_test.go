package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFletcher64(t *testing.T) {
	require.Zero(t, Fletcher64(nil, 0))

	// lo accumulates words, hi accumulates running lo values.
	buf := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	require.Equal(t, uint64(4)<<32|3, Fletcher64(buf, 0))

	// Folding in two halves equals folding at once.
	require.Equal(t, Fletcher64(buf, 0), Fletcher64(buf[4:], Fletcher64(buf[:4], 0)))

	// Wrap-around does not panic and stays 32-bit per half.
	big := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	require.Equal(t, uint64(0xfffffffd)<<32|0xfffffffe, Fletcher64(big, 0))
}

func TestBlocks(t *testing.T) {
	buf := make([]byte, 1024)
	buf[512] = 1
	sums := Blocks(buf, 512)
	require.Len(t, sums, 2)
	require.Zero(t, sums[0])
	require.NotZero(t, sums[1])
}
