package utilities

import (
	"fmt"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction. Fields are populated from the
// environment by the config package.
type Config struct {
	Level string `env:"LOG_LEVEL"`
	Dev   bool   `env:"LOG_DEV"`
	// File, when set, receives a copy of every entry and is rotated daily.
	File   string        `env:"LOG_FILE"`
	MaxAge time.Duration `env:"LOG_MAX_AGE" envDefault:"168h"`
}

func levelFromString(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes and returns a *zap.Logger
func Init(cfg Config) (*zap.Logger, error) {
	level := cfg.Level
	if level == "" && cfg.Dev {
		level = "debug"
	}
	lvl := levelFromString(level)
	if cfg.Dev && cfg.File == "" {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(lvl)
		return c.Build()
	}

	sink := zapcore.AddSync(os.Stdout)
	if cfg.File != "" {
		rl, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(cfg.MaxAge),
		)
		if err != nil {
			return nil, fmt.Errorf("open rotating log %s: %w", cfg.File, err)
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rl))
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, lvl)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	return zap.New(core, opts...), nil
}
