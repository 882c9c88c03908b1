package common

import (
	"errors"
	"fmt"
	"os"

	"github.com/nspcc-dev/neofs-extentstore/cmd/extent-lens/config"
	"github.com/nspcc-dev/neofs-extentstore/misc"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/crypt"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/device"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/objectstore"
	"github.com/nspcc-dev/neofs-extentstore/pkg/local_object_storage/util/fserr"
	"github.com/nspcc-dev/neofs-extentstore/pkg/metrics"
	"github.com/nspcc-dev/neofs-extentstore/pkg/util"
	"github.com/nspcc-dev/neofs-extentstore/pkg/util/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	flagConfig   = "config"
	flagMeta     = "meta"
	flagDevice   = "device"
	flagReadOnly = "read-only"
	flagLogLevel = "log-level"
	flagID       = "id"
	flagMetrics  = "metrics-out"
)

// AddGlobalFlags registers flags shared by all commands.
func AddGlobalFlags(fs *pflag.FlagSet) {
	fs.StringP(flagConfig, "c", "", "Path to configuration file")
	fs.String(flagMeta, "", "Path to metadata database, overrides storage.path")
	fs.String(flagDevice, "", "Path to device file, overrides storage.device.path")
	fs.Bool(flagReadOnly, false, "Open filesystem in read-only mode, overrides storage.read_only")
	fs.String(flagLogLevel, "", "Logging level, overrides logger.level")
	fs.String(flagMetrics, "", "Write filesystem metrics in text format to the file on exit")
}

// AddObjectIDFlag adds the required object ID flag.
func AddObjectIDFlag(cmd *cobra.Command, v *uint64) {
	cmd.Flags().Uint64Var(v, flagID, 0, "Object ID")
	_ = cmd.MarkFlagRequired(flagID)
}

// Errf returns formatted error in errFmt format if err is not nil.
func Errf(errFmt string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf(errFmt, err)
}

// ReadConfig reads the configuration file given by the config flag and
// applies flag overrides.
func ReadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString(flagConfig)
	c, err := config.New(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed(flagMeta) {
		c.Storage.Path, _ = flags.GetString(flagMeta)
	}
	if flags.Changed(flagDevice) {
		c.Storage.Device.Path, _ = flags.GetString(flagDevice)
	}
	if flags.Changed(flagReadOnly) {
		c.Storage.ReadOnly, _ = flags.GetBool(flagReadOnly)
	}
	if flags.Changed(flagLogLevel) {
		c.Logger.Level, _ = flags.GetString(flagLogLevel)
	}

	if c.Storage.Path == "" {
		return nil, errors.New("metadata path is not set")
	}
	if c.Storage.Device.Path == "" {
		return nil, errors.New("device path is not set")
	}
	return c, nil
}

// NewLogger builds a logger from the "logger" section.
func NewLogger(c *config.Config) (*zap.Logger, error) {
	var prm logger.Prm

	if err := prm.SetLevelString(c.Logger.Level); err != nil {
		return nil, fmt.Errorf("invalid logger level: %w", err)
	}
	if err := prm.SetEncoding(c.Logger.Encoding); err != nil {
		return nil, err
	}

	return logger.NewLogger(&prm)
}

// Env is an opened filesystem with the configuration it was opened with.
type Env struct {
	Config *config.Config
	Log    *zap.Logger
	FS     *objectstore.FxFilesystem

	registry   *prometheus.Registry
	metricsOut string
}

// Close closes the filesystem and writes collected metrics if requested.
func (e *Env) Close() error {
	err := e.FS.Close()
	if e.metricsOut != "" {
		err = errors.Join(err, prometheus.WriteToTextfile(e.metricsOut, e.registry))
	}
	_ = e.Log.Sync()
	return err
}

func newEnv(cmd *cobra.Command, c *config.Config, log *zap.Logger) *Env {
	e := &Env{
		Config:   c,
		Log:      log,
		registry: prometheus.NewRegistry(),
	}
	e.metricsOut, _ = cmd.Flags().GetString(flagMetrics)
	return e
}

// OpenObject opens an object of the root store. Encrypted objects are
// unwrapped with the built-in key.
func (e *Env) OpenObject(cmd *cobra.Command, id uint64) (*objectstore.StoreObjectHandle, error) {
	h, err := e.FS.RootStore().OpenObject(cmd.Context(), id, objectstore.HandleOptions{}, crypt.NewInsecureCrypt())
	if err != nil {
		return nil, fmt.Errorf("can't open object %d: %w", id, err)
	}
	return h, nil
}

func (e *Env) fsOptions() []objectstore.Option {
	c := e.Config
	return []objectstore.Option{
		objectstore.WithLogger(e.Log),
		objectstore.WithMetrics(metrics.NewStoreMetrics(e.registry, misc.Version)),
		objectstore.WithBlockSize(uint32(c.Storage.BlockSize)),
		objectstore.WithMaxExtentSize(uint64(c.Storage.MaxExtentSize)),
		objectstore.WithIOWorkers(c.Storage.IOWorkers),
		objectstore.WithFlushInterval(c.Storage.FlushInterval),
		objectstore.WithFlushThreshold(c.Storage.FlushThreshold),
		objectstore.WithReadOnly(c.Storage.ReadOnly),
		objectstore.WithNoSync(c.Storage.NoSync),
	}
}

func openDevice(c *config.Config, log *zap.Logger, size uint64) (*device.FileDevice, error) {
	dev, err := device.OpenFile(c.Storage.Device.Path, uint32(c.Storage.Device.BlockSize), size,
		device.WithLogger(log),
		device.WithReadOnly(c.Storage.ReadOnly),
		device.WithNoSync(c.Storage.NoSync),
	)
	if err != nil {
		return nil, fmt.Errorf("can't open device: %w", err)
	}
	return dev, nil
}

func prepare(cmd *cobra.Command, forceReadOnly bool) (*config.Config, *zap.Logger, error) {
	c, err := ReadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if forceReadOnly {
		c.Storage.ReadOnly = true
	}
	log, err := NewLogger(c)
	if err != nil {
		return nil, nil, err
	}
	return c, log, nil
}

// Open opens a formatted filesystem. Inspection commands pass readOnly to
// open it read-only regardless of the configuration.
func Open(cmd *cobra.Command, readOnly bool) (*Env, error) {
	c, log, err := prepare(cmd, readOnly)
	if err != nil {
		return nil, err
	}

	dev, err := openDevice(c, log, 0)
	if err != nil {
		return nil, err
	}
	env := newEnv(cmd, c, log)
	env.FS, err = objectstore.Open(cmd.Context(), dev, c.Storage.Path, env.fsOptions()...)
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("can't open filesystem: %w", err)
	}
	return env, nil
}

// Format creates the device file of the given size and formats it. Zero size
// means storage.device.size.
func Format(cmd *cobra.Command, size uint64) (*Env, error) {
	c, log, err := prepare(cmd, false)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		size = uint64(c.Storage.Device.Size)
	}
	if size == 0 {
		return nil, errors.New("device size is not set")
	}
	if c.Storage.ReadOnly {
		return nil, fserr.ErrReadOnly
	}

	if err := util.MkdirParents(0o700, c.Storage.Path, c.Storage.Device.Path); err != nil {
		return nil, err
	}

	dev, err := openDevice(c, log, size)
	if err != nil {
		return nil, err
	}
	env := newEnv(cmd, c, log)
	env.FS, err = objectstore.NewEmpty(cmd.Context(), dev, c.Storage.Path, env.fsOptions()...)
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("can't format filesystem: %w", err)
	}
	return env, nil
}

// ExitErr carries the process exit code of a failed command.
type ExitErr struct {
	Code  int
	Cause error
}

func (x ExitErr) Error() string { return x.Cause.Error() }

func (x ExitErr) Unwrap() error { return x.Cause }

// ExitCode returns the process exit code for err: 2 for missing objects, 3
// for corrupted metadata, 1 otherwise.
func ExitCode(err error) int {
	var e ExitErr
	switch {
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, fserr.ErrNotFound):
		return 2
	case errors.Is(err, fserr.ErrInconsistent):
		return 3
	default:
		return 1
	}
}

// ExitOnErr writes error to os.Stderr and exits with ExitCode(err).
// Does nothing if err is nil.
func ExitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}
