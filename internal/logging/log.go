package logging

import (
	"io"
	"os"
	"time"

	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance.
	Logger zerolog.Logger
)

// Level names a logging verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// Sane default so packages that log before Init (tests, embedding)
	// don't panic on a zero-value Logger.
	Init(Config{Level: InfoLevel})
}

// WithComponent scopes a child logger to one of the engine's layers
// (block, btree, cache, txn, wal, checkpoint, recovery, lsm).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithFile scopes a child logger to a single open file handle (btree or
// LSM chunk), identified by its on-disk URI.
func WithFile(uri string) zerolog.Logger {
	return Logger.With().Str("file", uri).Logger()
}

// WithTxnID scopes a child logger to a transaction id.
func WithTxnID(id uint64) zerolog.Logger {
	return Logger.With().Uint64("txn_id", id).Logger()
}

// WithAddr scopes a child logger to an on-disk page address, logged as
// its string form "(off,size,checksum)" rather than three separate
// fields, since addr is almost always read back as a unit.
func WithAddr(addr codec.Cookie) zerolog.Logger {
	return Logger.With().Stringer("addr", addr).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }

func Debug(msg string) { Logger.Debug().Msg(msg) }

func Warn(msg string) { Logger.Warn().Msg(msg) }

func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) { Logger.Error().Err(err).Msg(format) }

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
