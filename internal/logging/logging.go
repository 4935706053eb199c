// Package logging builds the prefixed loggers used across expsync.
//
// Every component logs through a standard *log.Logger. When a log file is
// configured the output is written to stderr and to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/ledgersync/expsync/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Factory hands out loggers that share one writer.
type Factory struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New returns a Factory writing to stderr, plus a rotating file when
// cfg.File is set.
func New(cfg config.LogConfig) *Factory {
	if cfg.File == "" {
		return &Factory{out: os.Stderr}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return &Factory{out: io.MultiWriter(os.Stderr, file), file: file}
}

// Discard returns a Factory whose loggers drop everything.
func Discard() *Factory {
	return &Factory{out: io.Discard}
}

// Writer is the shared destination, for libraries that take an io.Writer.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Logger returns a logger with "[component] " as prefix.
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Rotate starts a new log file. It is a no-op without a file.
func (f *Factory) Rotate() error {
	if f.file == nil {
		return nil
	}
	return f.file.Rotate()
}

// Close releases the log file.
func (f *Factory) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
