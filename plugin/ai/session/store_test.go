package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/advisor/plugin/ai"
	"github.com/finsight/advisor/store/db"
)

func newTestStore(t *testing.T, opts ...Option) Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database, opts...)
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := json.RawMessage(`{"pattern":"X"}`)
	created, err := store.Create(ctx, "AAPL", seed)
	require.NoError(t, err)
	assert.Contains(t, created.ID, "AAPL_")
	assert.Empty(t, created.History)

	loaded, err := store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", loaded.Ticker)
	assert.JSONEq(t, `{"pattern":"X"}`, string(loaded.SeedContext))
}

func TestLoadUnknownSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "TSLA_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryAppendSurvivesReload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "SPY", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		loaded, err := store.Load(ctx, created.ID)
		require.NoError(t, err)

		loaded.AppendTurn(Turn{
			UserText:      "question",
			AssistantText: "answer",
			ToolLog: []ai.ToolInvocation{
				{CorrelationID: "call_1", Name: "get_market_data", Status: ai.InvocationSuccess},
			},
			CreatedAt: time.Now(),
		})
		require.NoError(t, store.Save(ctx, loaded))
	}

	final, err := store.Load(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, final.History, 3)
	assert.Equal(t, ai.InvocationSuccess, final.History[0].ToolLog[0].Status)
}

func TestTTLExpiry(t *testing.T) {
	store := newTestStore(t, WithTTL(time.Second))
	ctx := context.Background()

	created, err := store.Create(ctx, "QQQ", nil)
	require.NoError(t, err)

	_, err = store.Load(ctx, created.ID)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	_, err = store.Load(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "IWM", nil)
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx, created.ID))
	require.NoError(t, store.Close(ctx, created.ID))

	_, err = store.Load(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCacheRepopulatedFromDurableTier(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()

	first := NewStore(database)
	created, err := first.Create(ctx, "DIA", json.RawMessage(`{"note":"seed"}`))
	require.NoError(t, err)

	// A second store over the same database starts with a cold cache,
	// so the first Load must come from the durable tier.
	second := NewStore(database)
	loaded, err := second.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "DIA", loaded.Ticker)
	assert.JSONEq(t, `{"note":"seed"}`, string(loaded.SeedContext))
}
