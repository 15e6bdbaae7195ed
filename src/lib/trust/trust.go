package trust

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type MaskLevel int

const (
	Nothing   MaskLevel = 0x0
	ErrorMask MaskLevel = 0x1
	WarnMask  MaskLevel = 0x2
	InfoMask  MaskLevel = 0x4
	DebugMask MaskLevel = 0x8
	StatsMask MaskLevel = 0x10
	fatalMask MaskLevel = 0x80
)

// AllMask turns on every maskable level.
const AllMask = ErrorMask | WarnMask | InfoMask | DebugMask | StatsMask

// Sink is anything that can take one character at a time, usually a uart.
type Sink interface {
	Putc(c byte)
}

// SinkWriter adapts a Sink to io.Writer.  Newlines go out as CR LF like
// every serial console expects.
type SinkWriter struct {
	Sink Sink
}

func (s SinkWriter) Write(p []byte) (int, error) {
	for _, c := range p {
		if c == '\n' {
			s.Sink.Putc('\r')
		}
		s.Sink.Putc(c)
	}
	return len(p), nil
}

// Logger is the kernel's console log.  The zero value is not usable, use New
// or Nop.
type Logger struct {
	zl    zerolog.Logger
	level *atomic.Int32
}

// New returns a logger that writes human readable lines to w, filtered by
// mask.  There are no timestamps and no color since the console is usually a
// serial line.
func New(w io.Writer, mask MaskLevel) *Logger {
	cw := zerolog.ConsoleWriter{
		Out:          w,
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	}
	l := &Logger{
		zl:    zerolog.New(cw).Level(zerolog.DebugLevel),
		level: &atomic.Int32{},
	}
	l.level.Store(int32(normalize(mask) | fatalMask))
	return l
}

// Nop returns a logger that drops everything.
func Nop() *Logger {
	l := &Logger{zl: zerolog.Nop(), level: &atomic.Int32{}}
	l.level.Store(int32(fatalMask))
	return l
}

// With returns a logger that adds key=value to every line.  The level is
// shared with the parent.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		zl:    l.zl.With().Interface(key, value).Logger(),
		level: l.level,
	}
}

// normalize expands a mask so that enabling a level also enables every
// level more important than it (stats, debug, info, warn, error).
func normalize(mask MaskLevel) MaskLevel {
	result := Nothing
	switch {
	case mask&StatsMask > 0:
		result |= StatsMask
		fallthrough
	case mask&DebugMask > 0:
		result |= DebugMask
		fallthrough
	case mask&InfoMask > 0:
		result |= InfoMask
		fallthrough
	case mask&WarnMask > 0:
		result |= WarnMask
		fallthrough
	case mask&ErrorMask > 0:
		result |= ErrorMask
	}
	return result
}

// SetLevel lets you set an error mask directly. You can pass in something like
// ErrorMask | DebugMask to control exactly what gets printed.  It returns the
// previous mask.
func (l *Logger) SetLevel(mask MaskLevel) MaskLevel {
	if mask&0x1f == 0 {
		l.logf(WarnMask, "trust.SetLevel is turning off log messages")
	}
	prev := MaskLevel(l.level.Swap(int32(normalize(mask) | fatalMask)))
	return prev & 0x1f
}

func (l *Logger) Level() MaskLevel {
	return MaskLevel(l.level.Load()) & 0x1f
}

func (l *Logger) LevelToString() string {
	return MaskToString(l.Level())
}

func MaskToString(level MaskLevel) string {
	result := ""
	for _, l := range []struct {
		mask MaskLevel
		name string
	}{
		{ErrorMask, "error"}, {WarnMask, "warn"}, {InfoMask, "info"},
		{DebugMask, "debug"}, {StatsMask, "stats"},
	} {
		if level&l.mask == 0 {
			continue
		}
		if result != "" {
			result += " "
		}
		result += l.name
	}
	return result
}

// ParseLevel turns a level name into a mask.  The name is the least
// important level you still want to see.
func ParseLevel(s string) (MaskLevel, error) {
	switch s {
	case "none":
		return Nothing, nil
	case "stats":
		return StatsMask, nil
	case "debug":
		return DebugMask, nil
	case "info", "":
		return InfoMask, nil
	case "warn":
		return WarnMask, nil
	case "error":
		return ErrorMask, nil
	}
	return Nothing, fmt.Errorf("unknown log level %q", s)
}

func (l *Logger) logf(m MaskLevel, format string, params ...interface{}) {
	if MaskLevel(l.level.Load())&m == 0 {
		return
	}
	var ev *zerolog.Event
	switch {
	case m&fatalMask > 0:
		ev = l.zl.WithLevel(zerolog.FatalLevel)
	case m&ErrorMask > 0:
		ev = l.zl.Error()
	case m&WarnMask > 0:
		ev = l.zl.Warn()
	case m&InfoMask > 0:
		ev = l.zl.Info()
	default:
		ev = l.zl.Debug()
	}
	ev.Msgf(format, params...)
}

// Fatalf prints the given log message (format + params).  Fatalf is not
// maskable.  It does not stop anything; the caller decides how to halt.
func (l *Logger) Fatalf(format string, params ...interface{}) {
	l.logf(fatalMask, format, params...)
}

// Errorf prints the given log message (format + params) using the ErrorMask level.
func (l *Logger) Errorf(format string, params ...interface{}) {
	l.logf(ErrorMask, format, params...)
}

// Warnf prints the given log message (format + params) using the WarnMask level.
func (l *Logger) Warnf(format string, params ...interface{}) {
	l.logf(WarnMask, format, params...)
}

// Infof prints the given log message (format + params) using the InfoMask level.
func (l *Logger) Infof(format string, params ...interface{}) {
	l.logf(InfoMask, format, params...)
}

// Debugf prints the given log message (format + params) using the DebugMask level.
func (l *Logger) Debugf(format string, params ...interface{}) {
	l.logf(DebugMask, format, params...)
}

// Statsf prints the given log message using the StatsMask level and takes an
// extra parameter that will be visible in the log message as the category of
// stats that is reported.
func (l *Logger) Statsf(category string, format string, params ...interface{}) {
	if MaskLevel(l.level.Load())&StatsMask == 0 {
		return
	}
	l.zl.Debug().Str("stats", category).Msgf(format, params...)
}
