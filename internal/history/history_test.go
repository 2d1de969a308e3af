package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivans-csu/super-cow-powers/internal/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(Match{
		GameID: 2, HostID: 0x486, GuestID: 0x1134,
		BlackScore: 40, WhiteScore: 24,
		FinishedAt: base,
	}))
	require.NoError(t, store.Record(Match{
		GameID: 3, HostID: 0x486, GuestID: 0xBEEF,
		BlackScore: 30, WhiteScore: 34,
		FinishedAt: base.Add(time.Hour),
	}))

	matches, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Most recent first.
	assert.Equal(t, uint32(3), matches[0].GameID)
	assert.Equal(t, "white", matches[0].Result)
	assert.Equal(t, uint32(2), matches[1].GameID)
	assert.Equal(t, "black", matches[1].Result)
	assert.Equal(t, base, matches[1].FinishedAt)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecentHonorsLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(Match{
			GameID: uint32(2 + i), HostID: 1, GuestID: 2,
			BlackScore: 32, WhiteScore: 32,
		}))
	}

	matches, err := store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
	assert.Equal(t, "tie", matches[0].Result)
}

func TestAttachRecordsGameOverEvents(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewBus()
	store.Attach(bus)

	bus.Emit(events.Event{
		Type:   events.EventGameOver,
		Source: "registry",
		Payload: events.GameOverPayload{
			GameID: 7, HostID: 0x486, GuestID: 0x1134,
			Black: 3, White: 0,
		},
	})
	// Stop drains the queue, so the record is in place afterwards.
	bus.Stop()

	matches, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, uint32(7), matches[0].GameID)
	assert.Equal(t, 3, matches[0].BlackScore)
	assert.Equal(t, "black", matches[0].Result)
}
