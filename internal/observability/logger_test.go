package observability

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLoggerWithWriter("test", &buf).WithLevel(LogLevelWarn)

	logger.Debug("debug line", nil)
	logger.Info("info line", nil)
	logger.Warn("warn line", nil)
	logger.Error("error line", nil)

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] [test] warn line")
	assert.Contains(t, out, "[ERROR] [test] error line")
}

func TestStandardLoggerFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLoggerWithWriter("sync", &buf)

	logger.Info("sync completed", map[string]interface{}{
		"tenant_id": "t1",
		"files":     3,
		"chunks":    12,
	})

	out := buf.String()
	require.Contains(t, out, "sync completed")
	assert.Contains(t, out, "chunks=12 files=3 tenant_id=t1")
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	base := NewStandardLoggerWithWriter("server", &buf)
	child := base.WithPrefix("scanner")

	child.Info("walk started", nil)
	assert.Contains(t, buf.String(), "[scanner]")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{in: "debug", want: LogLevelDebug},
		{in: "INFO", want: LogLevelInfo},
		{in: "warning", want: LogLevelWarn},
		{in: "error", want: LogLevelError},
		{in: "", want: LogLevelInfo},
		{in: "nonsense", want: LogLevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	require.NotNil(t, m)

	m.SyncOperationsTotal.WithLabelValues("completed").Inc()
	m.SyncFilesTotal.WithLabelValues("create").Add(3)
	m.ActiveSyncs.Set(1)
	m.CacheHits.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
