package cli

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// defaultLogLevel is used when log_level is unset. serve overrides it
// through the command annotation so request logs show by default.
const (
	defaultLogLevel      = "warn"
	annotationLogLevel   = "fieldkit/log-level"
	serveDefaultLogLevel = "info"
)

// newLogger builds a production-style JSON logger writing to w.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}
