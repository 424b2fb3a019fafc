package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the fields and helpers pistas components share.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // rfc3339, unix, etc.
	Output     io.Writer
}

// DefaultConfig returns production-ready defaults
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: "rfc3339",
		Output:     os.Stdout,
	}
}

// New creates a logger from cfg. A nil cfg means DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = getTimeFormat(cfg.TimeFormat)

	var zlog zerolog.Logger
	if strings.EqualFold(cfg.Format, "console") {
		// Human-readable console output for development
		output := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
		zlog = zerolog.New(output)
	} else {
		zlog = zerolog.New(out)
	}

	// Level is per-logger so loggers built for tests don't change each other.
	zlog = zlog.Level(parseLevel(cfg.Level)).With().Timestamp().Logger()

	return &Logger{zlog: zlog}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// WithContext adds logger to context
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return l.zlog.WithContext(ctx)
}

// FromContext retrieves the logger stored in ctx, falling back to the
// global logger.
func FromContext(ctx context.Context) *Logger {
	zlog := zerolog.Ctx(ctx)
	if zlog.GetLevel() == zerolog.Disabled {
		return global
	}
	return &Logger{zlog: *zlog}
}

// With creates a child logger with additional fields
func (l *Logger) With() *Context {
	return &Context{ctx: l.zlog.With()}
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *Logger {
	return l.With().Str("component", name).Logger()
}

// Context wraps zerolog.Context for field chaining
type Context struct {
	ctx zerolog.Context
}

func (c *Context) Str(key, val string) *Context {
	c.ctx = c.ctx.Str(key, val)
	return c
}

func (c *Context) Logger() *Logger {
	return &Logger{zlog: c.ctx.Logger()}
}

func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Structured logging with fields
func (l *Logger) DebugWith(msg string, fields map[string]interface{}) {
	withFields(l.zlog.Debug(), fields).Msg(msg)
}

func (l *Logger) InfoWith(msg string, fields map[string]interface{}) {
	withFields(l.zlog.Info(), fields).Msg(msg)
}

func (l *Logger) WarnWith(msg string, err error, fields map[string]interface{}) {
	withFields(l.zlog.Warn().Err(err), fields).Msg(msg)
}

func (l *Logger) ErrorWith(msg string, err error, fields map[string]interface{}) {
	withFields(l.zlog.Error().Err(err), fields).Msg(msg)
}

// HTTPEvent starts an info event for access logging.
func (l *Logger) HTTPEvent() *zerolog.Event {
	return l.zlog.Info()
}

func withFields(event *zerolog.Event, fields map[string]interface{}) *zerolog.Event {
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}

// Helper functions
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func getTimeFormat(format string) string {
	switch format {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	default:
		return time.RFC3339
	}
}

// global backs FromContext for contexts that carry no logger.
var global = New(nil)

// SetGlobal replaces the fallback logger returned by FromContext.
func SetGlobal(l *Logger) {
	global = l
}
