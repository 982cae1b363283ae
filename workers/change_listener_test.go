package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-player-service/services"
)

func newListenerUnderTest(t *testing.T, matchAPI *fakeMatchAPI) *ChangeListener {
	t.Helper()
	orch, _ := newOrchestrator(t, newTestStore(), matchAPI)
	return NewChangeListener("nats://unused:4222", "records.matches", orch)
}

func seatsRequested(matchAPI *fakeMatchAPI) []string {
	matchAPI.mu.Lock()
	defer matchAPI.mu.Unlock()
	return append([]string(nil), matchAPI.seatsRequested...)
}

func TestListenerActsOnPlayingTransition(t *testing.T) {
	matchAPI := &fakeMatchAPI{seats: map[string][]services.MatchSeat{"m1": {}}}
	l := newListenerUnderTest(t, matchAPI)

	payload := []byte(`{"op":"UPDATE","record":{"id":"m1","status":"playing","game_type":"tictactoe"}}`)
	l.handle(context.Background(), payload)

	assert.Equal(t, []string{"m1"}, seatsRequested(matchAPI))
}

func TestListenerIgnoresOtherStatuses(t *testing.T) {
	matchAPI := &fakeMatchAPI{}
	l := newListenerUnderTest(t, matchAPI)

	for _, status := range []string{"waiting", "finished", ""} {
		payload := []byte(`{"op":"UPDATE","record":{"id":"m1","status":"` + status + `"}}`)
		l.handle(context.Background(), payload)
	}
	assert.Empty(t, seatsRequested(matchAPI))
}

func TestListenerIgnoresGarbage(t *testing.T) {
	matchAPI := &fakeMatchAPI{}
	l := newListenerUnderTest(t, matchAPI)

	l.handle(context.Background(), []byte(`not json at all`))
	l.handle(context.Background(), []byte(`{"record":{}}`))
	assert.Empty(t, seatsRequested(matchAPI))
}

func TestListenerFailureDoesNotBlockNextEvent(t *testing.T) {
	matchAPI := &fakeMatchAPI{
		seatsErr: assert.AnError,
		seats:    map[string][]services.MatchSeat{},
	}
	l := newListenerUnderTest(t, matchAPI)

	bad := []byte(`{"op":"UPDATE","record":{"id":"m-bad","status":"playing","game_type":"tictactoe"}}`)
	l.handle(context.Background(), bad)

	matchAPI.mu.Lock()
	matchAPI.seatsErr = nil
	matchAPI.mu.Unlock()

	good := []byte(`{"op":"UPDATE","record":{"id":"m-good","status":"playing","game_type":"tictactoe"}}`)
	l.handle(context.Background(), good)

	require.Eventually(t, func() bool {
		reqs := seatsRequested(matchAPI)
		return len(reqs) == 2 && reqs[1] == "m-good"
	}, time.Second, 10*time.Millisecond)
}
