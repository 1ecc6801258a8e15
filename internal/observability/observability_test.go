package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/processors/minsev"
)

func TestInstrument_LocalFormats(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	shutdown, err := Instrument(context.Background(), Options{Level: slog.LevelInfo, Format: "json", Output: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	slog.Debug("hidden")
	slog.Info("visible", "store", "file")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "visible", record["msg"])
	assert.Equal(t, "file", record["store"])
}

func TestInstrument_StdoutExporter(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	shutdown, err := Instrument(context.Background(), Options{
		Level:    slog.LevelWarn,
		Format:   "text",
		Exporter: ExporterStdout,
		Output:   &buf,
	})
	require.NoError(t, err)

	slog.Info("below threshold")
	slog.Warn("exported")
	require.NoError(t, shutdown(context.Background()))

	assert.NotContains(t, buf.String(), "below threshold")
	assert.Contains(t, buf.String(), "exported")
}

func TestInstrument_Errors(t *testing.T) {
	_, err := Instrument(context.Background(), Options{Format: "xml"})
	assert.Error(t, err)

	_, err = Instrument(context.Background(), Options{Format: "text", Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, minsev.SeverityDebug, severity(slog.LevelDebug))
	assert.Equal(t, minsev.SeverityInfo, severity(slog.LevelInfo))
	assert.Equal(t, minsev.SeverityWarn, severity(slog.LevelWarn))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError+4))
}

func TestFanoutHandler(t *testing.T) {
	var debug, warn bytes.Buffer
	h := &fanoutHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}

	logger := slog.New(h).With("component", "test").WithGroup("g")
	logger.Debug("only debug")
	logger.Warn("both", "k", "v")

	assert.Contains(t, debug.String(), "only debug")
	assert.Contains(t, debug.String(), "component=test")
	assert.NotContains(t, warn.String(), "only debug")
	assert.Contains(t, warn.String(), "g.k=v")
}
