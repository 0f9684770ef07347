package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	"pulse/internal/engine"
	"pulse/internal/stats"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleItem(t *testing.T) HistoryItem {
	t.Helper()
	cfg, err := config.New("example.com", 80, "http", 10*time.Second, 25)
	require.NoError(t, err)

	item := Summarize(engine.Report{
		Config: cfg,
		State:  "completed",
		Stats: stats.Snapshot{
			RequestsSent: 250,
			SuccessCount: 245,
			ErrorCount:   5,
			SuccessRate:  98.0,
			AvgResponse:  42 * time.Millisecond,
			CurrentRate:  24.8,
			P99Ms:        130,
		},
	})
	item.ID = uuid.New().String()
	return item
}

func TestSaveAndGet(t *testing.T) {
	s := tempStore(t)
	item := sampleItem(t)

	require.NoError(t, s.Save(item))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, uint64(250), got.Summary.Requests)
	assert.Equal(t, "completed", got.State)
	assert.InDelta(t, 42.0, got.Summary.AvgMs, 0.001)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := tempStore(t)
	got, err := s.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListNewestFirst(t *testing.T) {
	s := tempStore(t)

	first := sampleItem(t)
	first.Timestamp = time.Now().Add(-time.Hour)
	second := sampleItem(t)

	require.NoError(t, s.Save(first))
	require.NoError(t, s.Save(second))

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
}

func TestSavePrunesBeyondCap(t *testing.T) {
	s := tempStore(t)

	base := time.Now().Add(-time.Duration(maxHistory+10) * time.Minute)
	for i := 0; i < maxHistory+10; i++ {
		item := sampleItem(t)
		item.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Save(item))
	}

	items, err := s.List()
	require.NoError(t, err)
	assert.Len(t, items, maxHistory)
}
