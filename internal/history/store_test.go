package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndRecentRoundTrip(t *testing.T) {
	store := openTestStore(t)

	started := time.Unix(1700000000, 0)
	ended := started.Add(5 * time.Minute)
	final := stats.Statistics{
		CurrentAPM:       150,
		AverageAPM:       132.5,
		ActionsPerSecond: 2,
		TotalActions:     662,
		SessionSeconds:   300,
	}
	require.NoError(t, store.Save(FromStatistics("session-1", started, ended, final)))

	recs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, "session-1", got.ID)
	assert.Equal(t, started.Unix(), got.StartedAt.Unix())
	assert.Equal(t, ended.Unix(), got.EndedAt.Unix())
	assert.Equal(t, final.TotalActions, got.TotalActions)
	assert.Equal(t, final.AverageAPM, got.AverageAPM)
	assert.Equal(t, final.CurrentAPM, got.CurrentAPM)
	assert.Equal(t, final.ActionsPerSecond, got.ActionsPerSecond)
}

func TestRecentOrdersByEndDescAndLimits(t *testing.T) {
	store := openTestStore(t)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		rec := Record{
			ID:        string(rune('a' + i)),
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			EndedAt:   base.Add(time.Duration(i)*time.Hour + 30*time.Minute),
		}
		require.NoError(t, store.Save(rec))
	}

	recs, err := store.Recent(3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "e", recs[0].ID)
	assert.Equal(t, "d", recs[1].ID)
	assert.Equal(t, "c", recs[2].ID)
}

func TestPrune(t *testing.T) {
	store := openTestStore(t)
	base := time.Unix(1700000000, 0)

	require.NoError(t, store.Save(Record{ID: "old", StartedAt: base, EndedAt: base}))
	require.NoError(t, store.Save(Record{ID: "new", StartedAt: base.Add(48 * time.Hour), EndedAt: base.Add(48 * time.Hour)}))

	removed, err := store.Prune(base.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	recs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ID)
}
