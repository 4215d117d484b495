package log_service

import (
	"strings"
	"time"
)

const (
	DebugLevel = "DEBUG"
	InfoLevel  = "INFO"
	WarnLevel  = "WARN"
	ErrorLevel = "ERROR"
)

const (
	DebugLevelValue = iota
	InfoLevelValue
	WarnLevelValue
	ErrorLevelValue
)

type LogEvent struct {
	Timestamp time.Time
	NodeID    string
	Message   string
	Metadata  map[string]any
}

type LogService interface {
	Debug(event LogEvent)
	Info(event LogEvent)
	Warn(event LogEvent)
	Error(event LogEvent)
}

// GetLevelValue maps a level name to its ordinal. Unknown names map to INFO.
func GetLevelValue(level string) int {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case DebugLevel:
		return DebugLevelValue
	case InfoLevel:
		return InfoLevelValue
	case WarnLevel, "WARNING":
		return WarnLevelValue
	case ErrorLevel:
		return ErrorLevelValue
	default:
		return InfoLevelValue
	}
}

type teeLogService []LogService

// Tee fans every event out to all services.
func Tee(services ...LogService) LogService {
	return teeLogService(services)
}

func (t teeLogService) Debug(event LogEvent) {
	for _, ls := range t {
		ls.Debug(event)
	}
}

func (t teeLogService) Info(event LogEvent) {
	for _, ls := range t {
		ls.Info(event)
	}
}

func (t teeLogService) Warn(event LogEvent) {
	for _, ls := range t {
		ls.Warn(event)
	}
}

func (t teeLogService) Error(event LogEvent) {
	for _, ls := range t {
		ls.Error(event)
	}
}
