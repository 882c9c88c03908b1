package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	require.Equal(t, LevelDefault, c.Logger.Level)
	require.Equal(t, EncodingDefault, c.Logger.Encoding)
	require.Equal(t, Size(BlockSizeDefault), c.Storage.BlockSize)
	require.Equal(t, Size(MaxExtentSizeDefault), c.Storage.MaxExtentSize)
	require.Equal(t, IOWorkersDefault, c.Storage.IOWorkers)
	require.Equal(t, FlushThresholdDefault, c.Storage.FlushThreshold)
	require.Zero(t, c.Storage.FlushInterval)
	require.False(t, c.Storage.NoSync)
	require.False(t, c.Storage.ReadOnly)
	require.Empty(t, c.Storage.Path)
	require.Empty(t, c.Storage.Device.Path)
	require.Zero(t, c.Storage.Device.Size)
	require.Equal(t, Size(DeviceBlockSizeDefault), c.Storage.Device.BlockSize)
}

func TestFile(t *testing.T) {
	for _, path := range []string{"testdata/config.yaml", "testdata/config.json"} {
		t.Run(path, func(t *testing.T) {
			c, err := New(path)
			require.NoError(t, err)

			require.Equal(t, Logger{Level: "debug", Encoding: "json"}, c.Logger)
			require.Equal(t, Storage{
				Path:           "/srv/extents/meta.db",
				BlockSize:      8 << 10,
				MaxExtentSize:  4 << 20,
				IOWorkers:      8,
				FlushInterval:  30 * time.Second,
				FlushThreshold: 1024,
				NoSync:         true,
				Device: Device{
					Path:      "/srv/extents/device.img",
					Size:      1 << 30,
					BlockSize: 512,
				},
			}, c.Storage)
		})
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("EXTENT_LENS_LOGGER_LEVEL", "warn")
	t.Setenv("EXTENT_LENS_STORAGE_DEVICE_SIZE", "16m")
	t.Setenv("EXTENT_LENS_STORAGE_READ_ONLY", "true")
	t.Setenv("EXTENT_LENS_STORAGE_FLUSH_INTERVAL", "1m")

	c, err := New("testdata/config.yaml")
	require.NoError(t, err)

	require.Equal(t, "warn", c.Logger.Level)
	require.Equal(t, Size(16<<20), c.Storage.Device.Size)
	require.True(t, c.Storage.ReadOnly)
	require.Equal(t, time.Minute, c.Storage.FlushInterval)
	require.Equal(t, "/srv/extents/meta.db", c.Storage.Path)
}

func TestMissingFile(t *testing.T) {
	_, err := New("testdata/missing.yaml")
	require.Error(t, err)
}

func TestParseSizeInBytes(t *testing.T) {
	for _, tc := range []struct {
		in  string
		exp uint64
	}{
		{"", 0},
		{"4096", 4096},
		{"512b", 512},
		{"4k", 4 << 10},
		{"4 KB", 4 << 10},
		{"12 mb", 12 << 20},
		{"1g", 1 << 30},
		{"2T", 2 << 40},
		{"99999999999T", 0},
	} {
		require.Equal(t, tc.exp, parseSizeInBytes(tc.in), tc.in)
	}
}

func TestParseSize(t *testing.T) {
	v, err := ParseSize("")
	require.NoError(t, err)
	require.Zero(t, v)

	v, err = ParseSize("64m")
	require.NoError(t, err)
	require.EqualValues(t, 64<<20, v)

	_, err = ParseSize("lots")
	require.Error(t, err)
}
