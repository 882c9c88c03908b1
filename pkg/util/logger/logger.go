// Package logger builds zap loggers from textual configuration.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// EncodingConsole is a human-readable encoding.
	EncodingConsole = "console"
	// EncodingJSON is a machine-readable encoding.
	EncodingJSON = "json"
)

// Prm groups Logger's parameters.
// Successful passing non-nil parameters to the NewLogger (if returned
// error is nil) leads to a valid Logger.
type Prm struct {
	level    zapcore.Level
	encoding string
	// noTime drops timestamps from the output.
	noTime bool
}

// SetLevelString sets the minimum logging level. Default is "info".
//
// Returns error if s is not a string representation of a
// supporting logging level.
//
// Supports at least the following levels (in ascending order):
//   - debug
//   - info (default)
//   - warn
//   - error
func (p *Prm) SetLevelString(s string) error {
	return p.level.UnmarshalText([]byte(s))
}

// SetEncoding sets the output encoding, "console" or "json". Default is
// "console".
func (p *Prm) SetEncoding(s string) error {
	switch s {
	case "", EncodingConsole, EncodingJSON:
		p.encoding = s
		return nil
	default:
		return fmt.Errorf("unsupported log encoding %q", s)
	}
}

// SetNoTime disables timestamps.
func (p *Prm) SetNoTime(v bool) {
	p.noTime = v
}

// NewLogger constructs zap.Logger instance for the current application.
// Nil Prm means defaults.
//
// Logger contains a logging level which can be set via Prm.SetLevelString,
// an encoding set via Prm.SetEncoding. Stacktraces are attached to fatal
// entries only. Sampling is disabled.
func NewLogger(prm *Prm) (*zap.Logger, error) {
	if prm == nil {
		prm = new(Prm)
	}

	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(prm.level)
	c.Encoding = prm.encoding
	if c.Encoding == "" {
		c.Encoding = EncodingConsole
	}
	c.Sampling = nil
	c.OutputPaths = []string{"stderr"}
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if prm.noTime {
		c.EncoderConfig.TimeKey = zapcore.OmitKey
	}

	l, err := c.Build(
		zap.AddStacktrace(zap.NewAtomicLevelAt(zap.FatalLevel)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	return l, nil
}
