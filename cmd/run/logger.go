package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/entity-scripting/engine"
	"github.com/wippyai/entity-scripting/gamestate"
	"github.com/wippyai/entity-scripting/observer"
	"github.com/wippyai/entity-scripting/script"
)

// newLogger builds a logger writing to w and installs it as the package
// logger of every runtime package.
func newLogger(level, format string, w io.Writer) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	logger := zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl)))
	engine.SetLogger(logger.Named("engine"))
	script.SetLogger(logger.Named("script"))
	observer.SetLogger(logger.Named("observer"))
	gamestate.SetLogger(logger.Named("gamestate"))
	return logger, nil
}
