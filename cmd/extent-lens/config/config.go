// Package config reads extent-lens configuration from a YAML or JSON file
// with environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is a prefix of ENV variables related to extent-lens
	// configuration.
	EnvPrefix = "extent_lens"
	// EnvSeparator is a section separator in ENV variables.
	EnvSeparator = "_"

	separator = "."
)

const (
	// LevelDefault is a default logger level.
	LevelDefault = "info"
	// EncodingDefault is a default logger encoding.
	EncodingDefault = "console"
	// BlockSizeDefault is a default filesystem block size.
	BlockSizeDefault = 4096
	// DeviceBlockSizeDefault is a default device block size.
	DeviceBlockSizeDefault = 512
	// MaxExtentSizeDefault is a default limit of a single allocation.
	MaxExtentSizeDefault = 1 << 20
	// IOWorkersDefault is a default number of concurrent device reads.
	IOWorkersDefault = 16
	// FlushThresholdDefault is a default number of pending records forcing a
	// flush.
	FlushThresholdDefault = 1 << 16
)

// Logger is the "logger" section.
type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Device is the "storage.device" section.
type Device struct {
	Path      string `mapstructure:"path"`
	Size      Size   `mapstructure:"size"`
	BlockSize Size   `mapstructure:"block_size"`
}

// Storage is the "storage" section.
type Storage struct {
	// Path is the metadata file.
	Path           string        `mapstructure:"path"`
	BlockSize      Size          `mapstructure:"block_size"`
	MaxExtentSize  Size          `mapstructure:"max_extent_size"`
	IOWorkers      int           `mapstructure:"io_workers"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	FlushThreshold int           `mapstructure:"flush_threshold"`
	NoSync         bool          `mapstructure:"no_sync"`
	ReadOnly       bool          `mapstructure:"read_only"`
	Device         Device        `mapstructure:"device"`
}

// Config is the extent-lens configuration.
type Config struct {
	Logger  Logger  `mapstructure:"logger"`
	Storage Storage `mapstructure:"storage"`
}

// New reads configuration from the file at path, if it is not empty, applies
// ENV overrides and fills missing values with defaults.
func New(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(separator, EnvSeparator))

	defaultConfiguration(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	c := new(Config)
	err := v.Unmarshal(c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		SizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return c, nil
}

func defaultConfiguration(v *viper.Viper) {
	v.SetDefault("logger.level", LevelDefault)
	v.SetDefault("logger.encoding", EncodingDefault)

	v.SetDefault("storage.path", "")
	v.SetDefault("storage.block_size", BlockSizeDefault)
	v.SetDefault("storage.max_extent_size", MaxExtentSizeDefault)
	v.SetDefault("storage.io_workers", IOWorkersDefault)
	v.SetDefault("storage.flush_interval", "0s")
	v.SetDefault("storage.flush_threshold", FlushThresholdDefault)
	v.SetDefault("storage.no_sync", false)
	v.SetDefault("storage.read_only", false)

	v.SetDefault("storage.device.path", "")
	v.SetDefault("storage.device.size", 0)
	v.SetDefault("storage.device.block_size", DeviceBlockSizeDefault)
}
