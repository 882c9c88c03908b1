package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	common "github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/internal"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type lens struct {
	t    *testing.T
	meta string
	dev  string
}

func newLens(t *testing.T) *lens {
	dir := t.TempDir()
	l := &lens{
		t:    t,
		meta: filepath.Join(dir, "meta.db"),
		dev:  filepath.Join(dir, "device.img"),
	}

	out := l.run(nil, "format", "--size", "4m")
	require.True(t, strings.HasPrefix(out, "Formatted filesystem "), out)
	return l
}

func (l *lens) exec(stdin []byte, args ...string) (string, error) {
	out, _, err := l.execStderr(stdin, args...)
	return out, err
}

func (l *lens) execStderr(stdin []byte, args ...string) (string, string, error) {
	cmd := newCommand()

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetArgs(append(args, "--meta", l.meta, "--device", l.dev, "--log-level", "error"))

	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func (l *lens) run(stdin []byte, args ...string) string {
	out, err := l.exec(stdin, args...)
	require.NoError(l.t, err, args)
	return out
}

func TestFormat(t *testing.T) {
	l := newLens(t)

	out := l.run(nil, "info")
	require.Contains(t, out, "Version: 0\n")
	require.Contains(t, out, "Block size: 4096\n")
	require.Contains(t, out, "Device size: 4194304\n")
	require.Contains(t, out, "Last object ID: 15\n")
	require.Contains(t, out, "Allocated: 0\n")

	_, err := l.exec(nil, "format", "--size", "4m")
	require.ErrorIs(t, err, fserr.ErrAlreadyExists)
}

func TestObjectLifecycle(t *testing.T) {
	l := newLens(t)

	require.Equal(t, "16\n", l.run(nil, "object", "create"))
	require.Equal(t, "5005\n", l.run([]byte("hello"), "object", "write", "--id", "16", "--offset", "5000"))
	require.Equal(t, "5010\n", l.run([]byte("world"), "object", "write", "--id", "16", "--append"))

	require.Equal(t, "helloworld", l.run(nil, "object", "read", "--id", "16", "--offset", "5000"))
	require.Equal(t, "llo", l.run(nil, "object", "read", "--id", "16", "--offset", "5002", "--length", "3"))
	require.Equal(t, string(make([]byte, 10)), l.run(nil, "object", "read", "--id", "16", "--length", "10"))

	require.Equal(t, "allocated=false length=4096\n", l.run(nil, "object", "allocated", "--id", "16"))
	require.Equal(t, "allocated=true length=914\n", l.run(nil, "object", "allocated", "--id", "16", "--offset", "4096"))

	out := l.run(nil, "extents", "list", "--id", "16")
	require.Contains(t, out, "4096..8192")

	l.run(nil, "object", "truncate", "--id", "16", "--size", "4096")
	l.run(nil, "object", "touch", "--id", "16", "--mtime", "2024-01-02T03:04:05Z")

	var p properties
	require.NoError(t, yaml.Unmarshal([]byte(l.run(nil, "object", "props", "--id", "16")), &p))
	require.EqualValues(t, 16, p.ID)
	require.EqualValues(t, 4096, p.Size)
	require.Zero(t, p.AllocatedSize)
	require.EqualValues(t, 1, p.Refs)
	require.Equal(t, "2024-01-02T03:04:05Z", p.ModificationTime)
	require.Empty(t, p.Keys)

	out = l.run(nil, "extents", "list", "--id", "16")
	require.NotContains(t, out, "4096..8192")
	out = l.run(nil, "extents", "list", "--id", "16", "--deleted")
	require.Contains(t, out, "4096..8192")
	require.Contains(t, out, "deleted")

	require.Equal(t, "object deleted\n", l.run(nil, "object", "delete", "--id", "16"))
	_, err := l.exec(nil, "object", "props", "--id", "16")
	require.ErrorIs(t, err, fserr.ErrNotFound)
	require.Equal(t, 2, common.ExitCode(err))
}

// properties mirrors the YAML printed by `object props`.
type properties struct {
	ID               uint64 `yaml:"id"`
	Size             uint64 `yaml:"size"`
	AllocatedSize    uint64 `yaml:"allocated_size"`
	Refs             uint64 `yaml:"refs"`
	ModificationTime string `yaml:"modification_time"`
	Keys             []struct {
		ID            uint64 `yaml:"id"`
		WrappingKeyID uint64 `yaml:"wrapping_key_id"`
		Key           string `yaml:"key"`
	} `yaml:"keys"`
}

func TestEncryptedObject(t *testing.T) {
	l := newLens(t)

	require.Equal(t, "16\n", l.run(nil, "object", "create", "--encrypted"))
	data := bytes.Repeat([]byte("secret"), 1000)
	l.run(data, "object", "write", "--id", "16")
	require.Equal(t, string(data), l.run(nil, "object", "read", "--id", "16"))

	var p properties
	require.NoError(t, yaml.Unmarshal([]byte(l.run(nil, "object", "props", "--id", "16")), &p))
	require.Len(t, p.Keys, 1)
	require.NotEmpty(t, p.Keys[0].Key)
}

func TestReadOnly(t *testing.T) {
	l := newLens(t)

	_, err := l.exec(nil, "object", "create", "--read-only")
	require.ErrorIs(t, err, fserr.ErrReadOnly)
}

func TestImageInstall(t *testing.T) {
	l := newLens(t)

	img := make([]byte, 0, 3*4096+100)
	img = append(img, bytes.Repeat([]byte{0xaa}, 4096)...)
	img = append(img, make([]byte, 2*4096)...)
	img = append(img, bytes.Repeat([]byte{0xbb}, 100)...)

	path := filepath.Join(t.TempDir(), "image.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write(img)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	out, errOut, err := l.execStderr(nil, "image", "install", "--in", path)
	require.NoError(t, err)
	require.Equal(t, "Installed 12388 bytes into object 16, 2 zero blocks skipped\n", out)
	require.Empty(t, errOut)
	require.Equal(t, string(img), l.run(nil, "object", "read", "--id", "16"))

	out, errOut, err = l.execStderr(nil, "image", "install", "--in", path, "--progress")
	require.NoError(t, err)
	require.Equal(t, "Installed 12388 bytes into object 17, 2 zero blocks skipped\n", out)
	require.NotEmpty(t, errOut, "progress bar goes to stderr")
	require.Equal(t, string(img), l.run(nil, "object", "read", "--id", "17"))

	_, err = l.exec(nil, "image", "install", "--in", filepath.Join(t.TempDir(), "missing.zst"))
	require.True(t, errors.Is(err, os.ErrNotExist), err)
}

func TestMetricsOut(t *testing.T) {
	l := newLens(t)

	path := filepath.Join(t.TempDir(), "extentstore.prom")
	l.run([]byte("data"), "object", "create", "--metrics-out", path)
	l.run([]byte("data"), "object", "write", "--id", "16", "--metrics-out", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `extentstore_version{version="`)
	require.Contains(t, string(data), "extentstore_handle_op_time")
}
