package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-player-service/models"
)

func newTestRegistry(t *testing.T) (*ClientRegistry, *memStore, *fakeTransports) {
	t.Helper()
	store := newMemStore()
	transports := newFakeTransports()
	registry := NewClientRegistry(store, transports.factory(), &fakeProvider{move: intPtr(0)}, nil, time.Hour)
	t.Cleanup(func() { registry.StopAll(context.Background()) })
	return registry, store, transports
}

func seedRecord(t *testing.T, store *memStore, id string, matchID string) {
	t.Helper()
	rec := testRecord(id)
	rec.ID = id
	if matchID != "" {
		seat := 0
		rec.MatchID = &matchID
		rec.SeatIndex = &seat
	}
	require.NoError(t, store.Create(context.Background(), rec))
}

func TestCreateRequiresBehavior(t *testing.T) {
	registry, store, _ := newTestRegistry(t)

	_, err := registry.Create(context.Background(), CreateClientSpec{Name: "No Config"})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, err = registry.Create(context.Background(), CreateClientSpec{
		Name:     "No Endpoint",
		Behavior: &models.BehaviorConfig{},
	})
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, store.records)
}

func TestCreateConnectsAndPersists(t *testing.T) {
	registry, store, transports := newTestRegistry(t)

	behavior := defaultBehavior()
	view, err := registry.Create(context.Background(), CreateClientSpec{
		Name:     "Alpha Bot",
		GameType: GameTicTacToe,
		Behavior: &behavior,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusConnected, view.Status)
	assert.True(t, view.Live)
	assert.Equal(t, "alpha-bot", view.Handle)

	rec, err := store.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, rec.Status)

	transport := transports.get(view.ID)
	require.NotNil(t, transport)
	assert.True(t, transport.connected)
}

func TestCreatePersistsErrorOnConnectFailure(t *testing.T) {
	registry, store, transports := newTestRegistry(t)
	transports.connectErr = errors.New("refused")

	behavior := defaultBehavior()
	view, err := registry.Create(context.Background(), CreateClientSpec{
		Name:     "Broken Bot",
		Behavior: &behavior,
	})
	require.NoError(t, err, "a failed first connect is not a create failure")
	assert.Equal(t, models.StatusError, view.Status)

	rec, err := store.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, rec.Status)
}

func TestStopUnknownID(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	var nf *NotFoundError
	require.ErrorAs(t, registry.Stop(context.Background(), "ghost"), &nf)
}

func TestStopTwiceIsIdempotent(t *testing.T) {
	registry, store, _ := newTestRegistry(t)

	behavior := defaultBehavior()
	view, err := registry.Create(context.Background(), CreateClientSpec{Name: "Stoppable", Behavior: &behavior})
	require.NoError(t, err)

	require.NoError(t, registry.Stop(context.Background(), view.ID))
	rec, err := store.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, rec.Status)

	// Second stop on an already-disconnected client must not raise.
	require.NoError(t, registry.Stop(context.Background(), view.ID))
	rec, err = store.Get(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisconnected, rec.Status)
}

func TestAssignRefusesWithoutGameType(t *testing.T) {
	registry, store, _ := newTestRegistry(t)

	rec := testRecord("c-untyped")
	rec.GameType = ""
	require.NoError(t, store.Create(context.Background(), rec))

	err := registry.AssignToMatch(context.Background(), "c-untyped", "m9", 0, "")
	var missing *MissingGameTypeError
	require.ErrorAs(t, err, &missing)

	// No match binding was persisted.
	stored, err := store.Get(context.Background(), "c-untyped")
	require.NoError(t, err)
	assert.Nil(t, stored.MatchID)
}

func TestAssignCreatesConnectionAndJoins(t *testing.T) {
	registry, store, transports := newTestRegistry(t)
	seedRecord(t, store, "c-assign", "")

	require.NoError(t, registry.AssignToMatch(context.Background(), "c-assign", "m5", 1, GameConnectFour))

	stored, err := store.Get(context.Background(), "c-assign")
	require.NoError(t, err)
	require.NotNil(t, stored.MatchID)
	assert.Equal(t, "m5", *stored.MatchID)
	assert.Equal(t, GameConnectFour, stored.GameType)

	transport := transports.get("c-assign")
	require.NotNil(t, transport)
	joins := transport.joinedMatches()
	require.Len(t, joins, 1)
	assert.Equal(t, joinCall{matchID: "m5", seat: 1}, joins[0])
}

func TestAssignCreatesRecordForDiscoveredSeat(t *testing.T) {
	registry, store, transports := newTestRegistry(t)

	// No record exists for this seat occupant; assignment creates one.
	require.NoError(t, registry.AssignToMatch(context.Background(), "seat-bot", "m7", 0, GameTicTacToe))

	rec, err := store.Get(context.Background(), "seat-bot")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, rec.Status)
	assert.Equal(t, GameTicTacToe, rec.GameType)
	require.NotNil(t, rec.MatchID)
	assert.Equal(t, "m7", *rec.MatchID)

	transport := transports.get("seat-bot")
	require.NotNil(t, transport)
	joins := transport.joinedMatches()
	require.Len(t, joins, 1)
	assert.Equal(t, joinCall{matchID: "m7", seat: 0}, joins[0])
}

func TestAssignUnknownClientStillNeedsGameType(t *testing.T) {
	registry, store, _ := newTestRegistry(t)

	err := registry.AssignToMatch(context.Background(), "seat-ghost", "m8", 0, "")
	var missing *MissingGameTypeError
	require.ErrorAs(t, err, &missing)

	// The refused discovery leaves no record behind.
	_, err = store.Get(context.Background(), "seat-ghost")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestAssignUsesRecordGameType(t *testing.T) {
	registry, store, _ := newTestRegistry(t)
	seedRecord(t, store, "c-typed", "") // testRecord carries tictactoe

	require.NoError(t, registry.AssignToMatch(context.Background(), "c-typed", "m6", 0, ""))

	stored, err := store.Get(context.Background(), "c-typed")
	require.NoError(t, err)
	assert.Equal(t, GameTicTacToe, stored.GameType)
}

func TestRecoverAllRebuildsEveryRecord(t *testing.T) {
	registry, store, transports := newTestRegistry(t)
	seedRecord(t, store, "r1", "m1")
	seedRecord(t, store, "r2", "m2")
	seedRecord(t, store, "r3", "")

	recovered, failed := registry.RecoverAll(context.Background(), 0)
	assert.Equal(t, 3, recovered)
	assert.Zero(t, failed)

	views := registry.ListAll(context.Background())
	require.Len(t, views, 3)
	for _, v := range views {
		assert.Contains(t, []string{models.StatusConnected, models.StatusError}, v.Status)
	}

	// Records with a match binding rejoined their match during connect.
	joins := transports.get("r1").joinedMatches()
	require.Len(t, joins, 1)
	assert.Equal(t, "m1", joins[0].matchID)
	assert.Empty(t, transports.get("r3").joinedMatches())
}

func TestRecoverAllCountsFailures(t *testing.T) {
	registry, store, transports := newTestRegistry(t)
	transports.connectErr = errors.New("gateway down")
	seedRecord(t, store, "r1", "m1")
	seedRecord(t, store, "r2", "")

	recovered, failed := registry.RecoverAll(context.Background(), 0)
	assert.Zero(t, recovered)
	assert.Equal(t, 2, failed)

	views := registry.ListAll(context.Background())
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, models.StatusError, v.Status)
	}
}

func TestListAllDegradesOnStoreFailure(t *testing.T) {
	registry, store, _ := newTestRegistry(t)

	behavior := defaultBehavior()
	view, err := registry.Create(context.Background(), CreateClientSpec{Name: "Memory Bot", Behavior: &behavior})
	require.NoError(t, err)

	store.mu.Lock()
	store.listErr = errors.New("connection reset")
	store.mu.Unlock()

	views := registry.ListAll(context.Background())
	require.Len(t, views, 1)
	assert.Equal(t, view.ID, views[0].ID)
	assert.True(t, views[0].Live)
}

func TestListAllMergesLiveStatus(t *testing.T) {
	registry, store, _ := newTestRegistry(t)

	behavior := defaultBehavior()
	view, err := registry.Create(context.Background(), CreateClientSpec{Name: "Live Bot", Behavior: &behavior})
	require.NoError(t, err)

	// Make the durable status lie; the live status must win.
	require.NoError(t, store.Update(context.Background(), view.ID, map[string]interface{}{"status": models.StatusError}))

	views := registry.ListAll(context.Background())
	require.Len(t, views, 1)
	assert.Equal(t, models.StatusConnected, views[0].Status)
	assert.True(t, views[0].Live)
}

func TestFlagStaleHeartbeats(t *testing.T) {
	registry, store, _ := newTestRegistry(t)

	stale := testRecord("stale")
	stale.Status = models.StatusConnected
	old := time.Now().UTC().Add(-time.Hour)
	stale.LastHeartbeatAt = &old
	require.NoError(t, store.Create(context.Background(), stale))

	fresh := testRecord("fresh")
	fresh.Status = models.StatusConnected
	now := time.Now().UTC()
	fresh.LastHeartbeatAt = &now
	require.NoError(t, store.Create(context.Background(), fresh))

	flagged := registry.FlagStaleHeartbeats(context.Background(), 10*time.Minute)
	assert.Equal(t, 1, flagged)

	rec, err := store.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, rec.Status)

	rec, err = store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConnected, rec.Status)
}

func TestStopAllStopsEverything(t *testing.T) {
	registry, store, _ := newTestRegistry(t)

	behavior := defaultBehavior()
	for _, name := range []string{"One", "Two", "Three"} {
		_, err := registry.Create(context.Background(), CreateClientSpec{Name: name, Behavior: &behavior})
		require.NoError(t, err)
	}

	registry.StopAll(context.Background())

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, models.StatusDisconnected, rec.Status)
	}
}
