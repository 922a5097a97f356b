package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmlive/apmlive-go-rewrite/internal/config"
	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:         t.TempDir(),
		ExportQueueSize: 64,
		TextFields: config.TextFields{
			APM: true, AverageAPM: true, APS: true,
			Total: true, SessionTime: true, Timestamp: true,
		},
	}
}

func sampleStats() stats.Statistics {
	return stats.Statistics{
		CurrentAPM:       142.5,
		AverageAPM:       120.25,
		ActionsPerSecond: 2.5,
		TotalActions:     893,
		SessionSeconds:   312,
		Timestamp:        time.Unix(1700000000, 0).UTC(),
	}
}

func drain(t *testing.T, e *Exporter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))
}

func TestJSONRoundTrip(t *testing.T) {
	e, err := New(testConfig(t))
	require.NoError(t, err)

	want := sampleStats()
	require.NoError(t, e.Submit(want, FormatJSON))
	drain(t, e)

	raw, err := os.ReadFile(e.JSONPath())
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, want.CurrentAPM, doc.CurrentAPM)
	assert.Equal(t, want.AverageAPM, doc.AverageAPM)
	assert.Equal(t, want.ActionsPerSecond, doc.ActionsPerSecond)
	assert.Equal(t, want.TotalActions, doc.TotalActions)
	assert.Equal(t, want.SessionSeconds, doc.SessionSeconds)
	assert.True(t, want.Timestamp.Equal(doc.Timestamp))
	assert.False(t, doc.ExportedAt.IsZero())
}

// parseTextLine inverts FormatTextLine for the full field set.
func parseTextLine(t *testing.T, line string) stats.Statistics {
	t.Helper()
	var out stats.Statistics
	for _, part := range strings.Split(line, " | ") {
		key, value, ok := strings.Cut(part, ": ")
		require.True(t, ok, "malformed part %q", part)
		switch key {
		case "TS":
			unix, err := strconv.ParseInt(value, 10, 64)
			require.NoError(t, err)
			out.Timestamp = time.Unix(unix, 0).UTC()
		case "APM":
			out.CurrentAPM = parseF(t, value)
		case "AVG":
			out.AverageAPM = parseF(t, value)
		case "APS":
			out.ActionsPerSecond = parseF(t, value)
		case "Total":
			n, err := strconv.ParseUint(value, 10, 64)
			require.NoError(t, err)
			out.TotalActions = n
		case "Time":
			var h, m, s int
			_, err := fmtSscanf(value, &h, &m, &s)
			require.NoError(t, err)
			out.SessionSeconds = float64(h*3600 + m*60 + s)
		default:
			t.Fatalf("unknown field %q", key)
		}
	}
	return out
}

func parseF(t *testing.T, v string) float64 {
	t.Helper()
	f, err := strconv.ParseFloat(v, 64)
	require.NoError(t, err)
	return f
}

func fmtSscanf(v string, h, m, s *int) (int, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, errors.New("expected HH:MM:SS")
	}
	for i, dst := range []*int{h, m, s} {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return i, err
		}
		*dst = n
	}
	return 3, nil
}

func TestTextRoundTrip(t *testing.T) {
	e, err := New(testConfig(t))
	require.NoError(t, err)

	want := sampleStats()
	require.NoError(t, e.Submit(want, FormatText))
	drain(t, e)

	raw, err := os.ReadFile(e.TextPath())
	require.NoError(t, err)

	got := parseTextLine(t, string(raw))
	assert.Equal(t, want.CurrentAPM, got.CurrentAPM)
	assert.Equal(t, want.AverageAPM, got.AverageAPM)
	assert.Equal(t, want.ActionsPerSecond, got.ActionsPerSecond)
	assert.Equal(t, want.TotalActions, got.TotalActions)
	assert.Equal(t, want.SessionSeconds, got.SessionSeconds)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
}

func TestTextHonorsFieldSelection(t *testing.T) {
	line := FormatTextLine(sampleStats(), config.DefaultTextFields())
	assert.Equal(t, "APM: 142.5 | Total: 893 | Time: 00:05:12", line)
}

func TestPDFProducesDocument(t *testing.T) {
	e, err := New(testConfig(t))
	require.NoError(t, err)

	require.NoError(t, e.Submit(sampleStats(), FormatPDF))
	drain(t, e)

	raw, err := os.ReadFile(e.PDFPath())
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.True(t, strings.HasPrefix(string(raw), "%PDF"), "missing PDF header")
}

func TestAtomicReplaceKeepsPreviousArtifactOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/out.txt"
	require.NoError(t, writeAtomic(path, []byte("first")))

	// Block the staging path so the write fails before the rename.
	require.NoError(t, os.Mkdir(path+".tmp", 0755))
	err := writeAtomic(path, []byte("second"))
	assert.Error(t, err)

	raw, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "first", string(raw), "failed export must not corrupt the previous artifact")
}

func TestAtomicReplaceOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/out.txt"
	require.NoError(t, writeAtomic(path, []byte("first")))
	require.NoError(t, writeAtomic(path, []byte("second")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(raw))

	// No stray temp file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRapidSubmitsBoundedAndAccounted(t *testing.T) {
	cfg := testConfig(t)
	e, err := New(cfg)
	require.NoError(t, err)

	const total = 1000
	accepted, rejected := 0, 0
	for i := 0; i < total; i++ {
		switch err := e.Submit(sampleStats(), FormatJSON); {
		case err == nil:
			accepted++
		case errors.Is(err, ErrQueueFull):
			rejected++
		default:
			t.Fatalf("unexpected submit error: %v", err)
		}
	}

	assert.Equal(t, total, accepted+rejected, "every request accounted for")
	assert.Positive(t, accepted)

	// All accepted requests drain through the single worker.
	drain(t, e)
	_, err = os.Stat(e.JSONPath())
	assert.NoError(t, err)
}

func TestSubmitAfterClose(t *testing.T) {
	e, err := New(testConfig(t))
	require.NoError(t, err)
	drain(t, e)

	err = e.Submit(sampleStats(), FormatText)
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	assert.NoError(t, e.Close(context.Background()))
}

func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats([]string{"text", "json", "pdf"})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatText, FormatJSON, FormatPDF}, formats)

	_, err = ParseFormats([]string{"xml"})
	assert.Error(t, err)
}
