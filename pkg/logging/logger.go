package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
	Gray    = "\033[90m"

	BrightRed     = "\033[91m"
	BrightGreen   = "\033[92m"
	BrightYellow  = "\033[93m"
	BrightBlue    = "\033[94m"
	BrightMagenta = "\033[95m"
	BrightCyan    = "\033[96m"
	BrightWhite   = "\033[97m"
)

// ColoredLogger wraps zap.Logger with component-tagged, colored output.
type ColoredLogger struct {
	*zap.Logger
	enableColors bool
}

// Component represents different parts of the system for color coding
type Component string

const (
	ComponentRegistry    Component = "REGISTRY"
	ComponentHealth      Component = "HEALTH"
	ComponentRouting     Component = "ROUTING"
	ComponentFailover    Component = "FAILOVER"
	ComponentReplication Component = "REPLICATION"
	ComponentConsensus   Component = "CONSENSUS"
	ComponentAdapter     Component = "ADAPTER"
	ComponentAudit       Component = "AUDIT"
	ComponentEvents      Component = "EVENTS"
	ComponentGateway     Component = "GATEWAY"
	ComponentNode        Component = "NODE"
	ComponentGeneral     Component = "GENERAL"
)

// Config controls how NewLogger builds its core.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // console or json
	OutputFile string // empty means stdout
	Colors     bool
}

func getComponentColor(component Component) string {
	switch component {
	case ComponentRegistry:
		return BrightBlue
	case ComponentHealth:
		return BrightMagenta
	case ComponentRouting:
		return BrightCyan
	case ComponentFailover:
		return BrightYellow
	case ComponentReplication:
		return Green
	case ComponentConsensus:
		return Magenta
	case ComponentAdapter:
		return Blue
	case ComponentAudit:
		return Cyan
	case ComponentEvents:
		return Gray
	case ComponentGateway:
		return BrightGreen
	case ComponentNode:
		return BrightWhite
	case ComponentGeneral:
		return Yellow
	default:
		return White
	}
}

func getLevelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return Gray
	case zapcore.InfoLevel:
		return BrightWhite
	case zapcore.WarnLevel:
		return BrightYellow
	case zapcore.ErrorLevel:
		return BrightRed
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return Red
	default:
		return White
	}
}

// coloredConsoleEncoder creates a compact console encoder: HH:MM:SS, a
// single-letter level and the bare file name of the caller.
func coloredConsoleEncoder(enableColors bool) zapcore.Encoder {
	config := zap.NewDevelopmentEncoderConfig()

	config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		timeStr := t.Format("15:04:05")
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, timeStr, Reset))
		} else {
			enc.AppendString(timeStr)
		}
	}

	config.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		levelStr := strings.ToUpper(level.String()[:1])
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s%s", getLevelColor(level), Bold, levelStr, Reset))
		} else {
			enc.AppendString(levelStr)
		}
	}

	config.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		file = strings.TrimSuffix(file, ".go")
		if enableColors {
			enc.AppendString(fmt.Sprintf("%s%s%s", Dim, file, Reset))
		} else {
			enc.AppendString(file)
		}
	}

	return zapcore.NewConsoleEncoder(config)
}

// ParseLevel maps a configured level name to a zap level. Unknown names
// fall back to info.
func ParseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// NewLogger builds a logger from cfg. JSON output never carries colors.
func NewLogger(cfg Config) (*ColoredLogger, error) {
	var encoder zapcore.Encoder
	colors := cfg.Colors
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		colors = false
	} else {
		encoder = coloredConsoleEncoder(colors)
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.OutputFile != "" {
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		sink = zapcore.AddSync(file)
		colors = false
		if !strings.EqualFold(cfg.Format, "json") {
			encoder = coloredConsoleEncoder(false)
		}
	}

	core := zapcore.NewCore(encoder, sink, ParseLevel(cfg.Level))
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ColoredLogger{
		Logger:       logger,
		enableColors: colors,
	}, nil
}

// NewDefaultLogger creates a colored debug-level console logger.
func NewDefaultLogger() (*ColoredLogger, error) {
	return NewLogger(Config{Level: "debug", Format: "console", Colors: true})
}

// Named returns a plain *zap.Logger scoped to component, for packages that
// only accept zap.
func (l *ColoredLogger) Named(component Component) *zap.Logger {
	return l.Logger.WithOptions(zap.AddCallerSkip(-1)).With(zap.String("component", string(component)))
}

func (l *ColoredLogger) tag(component Component, msg string) string {
	if l.enableColors {
		return fmt.Sprintf("%s[%s]%s %s", getComponentColor(component), component, Reset, msg)
	}
	return fmt.Sprintf("[%s] %s", component, msg)
}

// Component-specific logging methods
func (l *ColoredLogger) ComponentInfo(component Component, msg string, fields ...zap.Field) {
	l.Info(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentWarn(component Component, msg string, fields ...zap.Field) {
	l.Warn(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentError(component Component, msg string, fields ...zap.Field) {
	l.Error(l.tag(component, msg), fields...)
}

func (l *ColoredLogger) ComponentDebug(component Component, msg string, fields ...zap.Field) {
	l.Debug(l.tag(component, msg), fields...)
}
