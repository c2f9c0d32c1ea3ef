package commands

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger returns a human-readable debug logger when verbose is set and
// a JSON logger that only records failures otherwise.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	sink := zapcore.Lock(zapcore.AddSync(w))
	if verbose {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if noColor {
			enc.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(enc), sink, zapcore.DebugLevel))
	}
	return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, zapcore.ErrorLevel))
}
