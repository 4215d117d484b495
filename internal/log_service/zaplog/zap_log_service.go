package zaplog

import (
	"io"
	"os"
	"strings"

	"github.com/AnishMulay/sandsampler/internal/log_service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogService struct {
	logger *zap.Logger
	level  zap.AtomicLevel
	nodeID string
}

// NewZapLogService writes to w using the "json" or "console" encoder.
func NewZapLogService(w io.Writer, nodeID string, minLogLevel string, format string) *ZapLogService {
	if w == nil {
		w = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	level := zap.NewAtomicLevelAt(toZapLevel(minLogLevel))
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)

	return &ZapLogService{
		logger: zap.New(core).With(zap.String("node", nodeID)),
		level:  level,
		nodeID: nodeID,
	}
}

// NewNop discards everything.
func NewNop() *ZapLogService {
	return &ZapLogService{logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func toZapLevel(level string) zapcore.Level {
	switch log_service.GetLevelValue(level) {
	case log_service.DebugLevelValue:
		return zapcore.DebugLevel
	case log_service.WarnLevelValue:
		return zapcore.WarnLevel
	case log_service.ErrorLevelValue:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *ZapLogService) SetMinLogLevel(level string) {
	z.level.SetLevel(toZapLevel(level))
}

func (z *ZapLogService) Logger() *zap.Logger {
	return z.logger
}

func (z *ZapLogService) Sync() error {
	return z.logger.Sync()
}

func fields(event log_service.LogEvent) []zap.Field {
	out := make([]zap.Field, 0, len(event.Metadata)+1)
	if event.NodeID != "" {
		out = append(out, zap.String("source", event.NodeID))
	}
	for k, v := range event.Metadata {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (z *ZapLogService) Debug(event log_service.LogEvent) {
	z.logger.Debug(event.Message, fields(event)...)
}

func (z *ZapLogService) Info(event log_service.LogEvent) {
	z.logger.Info(event.Message, fields(event)...)
}

func (z *ZapLogService) Warn(event log_service.LogEvent) {
	z.logger.Warn(event.Message, fields(event)...)
}

func (z *ZapLogService) Error(event log_service.LogEvent) {
	z.logger.Error(event.Message, fields(event)...)
}

var _ log_service.LogService = (*ZapLogService)(nil)
