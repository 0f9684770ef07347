package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/engine"
)

func sampleReport() engine.Report {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return engine.Report{
		State: "completed",
		Samples: []engine.Sample{
			{Timestamp: base, Elapsed: 40 * time.Millisecond, Status: 200, Success: true},
			{Timestamp: base.Add(200 * time.Millisecond), Elapsed: 60 * time.Millisecond, Status: 200, Success: true},
			{Timestamp: base.Add(time.Second), Elapsed: 80 * time.Millisecond, Status: 500, Success: false},
			{Timestamp: base.Add(1200 * time.Millisecond), Elapsed: 30 * time.Millisecond, Success: false, Err: "connect refused"},
		},
	}
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, ExportCSV(sampleReport(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 5, "header plus one row per sample")
	assert.Equal(t, "timeStamp,elapsedMs,responseCode,success,error", lines[0])
	assert.Contains(t, lines[4], "connect refused")
}

func TestExportTimelineBucketsPerSecond(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.json")
	require.NoError(t, ExportTimeline(sampleReport(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var timeline []TimeBucket
	require.NoError(t, json.Unmarshal(data, &timeline))
	require.Len(t, timeline, 2)

	assert.Equal(t, 2, timeline[0].Requests)
	assert.Equal(t, 0, timeline[0].Errors)
	assert.Equal(t, int64(50), timeline[0].AvgMs)

	assert.Equal(t, 2, timeline[1].Requests)
	assert.Equal(t, 2, timeline[1].Errors)
	assert.Less(t, timeline[0].Timestamp, timeline[1].Timestamp)
}

func TestExportAllWritesThreeFiles(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run")
	require.NoError(t, ExportAll(sampleReport(), prefix))

	for _, name := range []string{prefix + ".csv", prefix + ".json", prefix + "_timeline.json"} {
		_, err := os.Stat(name)
		assert.NoError(t, err, name)
	}
}
