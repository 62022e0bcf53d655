package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production zap logger, or a development one with debug
// level and console encoding when debug is set.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

// GooseLogger adapts zap to goose's Logger interface.
type GooseLogger struct {
	logger *zap.SugaredLogger
}

func NewGooseLogger(logger *zap.Logger) *GooseLogger {
	return &GooseLogger{logger: logger.Named("goose").Sugar()}
}

func (g *GooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Fatalf(format, v...)
}

func (g *GooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Infof(format, v...)
}
