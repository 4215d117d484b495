package localdisc

import (
	"os"
	"strings"
	"testing"

	"github.com/AnishMulay/sandsampler/internal/log_service"
)

func TestLocalDiscLogService_MinLevel(t *testing.T) {
	tests := []struct {
		name     string
		minLevel string
		logFn    func(ls *LocalDiscLogService)
		want     string
		wantNone bool
	}{
		{
			name:     "info passes info threshold",
			minLevel: log_service.InfoLevel,
			logFn: func(ls *LocalDiscLogService) {
				ls.Info(log_service.LogEvent{Message: "mounted", Metadata: map[string]any{"slot": 1}})
			},
			want: "INFO: mounted slot=1",
		},
		{
			name:     "debug filtered by info threshold",
			minLevel: log_service.InfoLevel,
			logFn: func(ls *LocalDiscLogService) {
				ls.Debug(log_service.LogEvent{Message: "probe"})
			},
			wantNone: true,
		},
		{
			name:     "error passes warn threshold",
			minLevel: "warn",
			logFn: func(ls *LocalDiscLogService) {
				ls.Error(log_service.LogEvent{Message: "engine failed"})
			},
			want: "ERROR: engine failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls, err := NewLocalDiscLogService(t.TempDir(), "worker-1", tt.minLevel)
			if err != nil {
				t.Fatalf("NewLocalDiscLogService() error = %v", err)
			}
			defer ls.Close()

			tt.logFn(ls)

			data, err := os.ReadFile(ls.Path())
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			got := string(data)

			if tt.wantNone {
				if got != "" {
					t.Errorf("log file = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("log file = %q, want it to contain %q", got, tt.want)
			}
			if !strings.Contains(got, "[worker-1]") {
				t.Errorf("log file = %q, want node id", got)
			}
		})
	}
}

func TestFormatLog_SortsMetadata(t *testing.T) {
	line := formatLog(log_service.InfoLevel, log_service.LogEvent{
		NodeID:   "n",
		Message:  "m",
		Metadata: map[string]any{"b": 2, "a": 1},
	})
	if !strings.HasSuffix(line, "INFO: m a=1 b=2") {
		t.Errorf("formatLog() = %q", line)
	}
}
