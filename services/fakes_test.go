package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-player-service/models"
)

// memStore is an in-memory ClientStore double.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.AIClient
	listErr error
	updates int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.AIClient)}
}

func (s *memStore) Create(ctx context.Context, client *models.AIClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	client.CreatedAt = now
	client.UpdatedAt = now
	cp := *client
	s.records[client.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*models.AIClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, &NotFoundError{ClientID: id}
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) List(ctx context.Context) ([]models.AIClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.AIClient, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return &NotFoundError{ClientID: id}
	}
	s.updates++
	for k, v := range fields {
		switch k {
		case "status":
			rec.Status = v.(string)
		case "game_type":
			rec.GameType = v.(string)
		case "match_id":
			m := v.(string)
			rec.MatchID = &m
		case "seat_index":
			n := v.(int)
			rec.SeatIndex = &n
		case "last_heartbeat_at":
			t := v.(time.Time)
			rec.LastHeartbeatAt = &t
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

type joinCall struct {
	matchID string
	seat    int
}

type moveCall struct {
	matchID string
	seat    int
	move    int
}

// fakeTransport is an in-memory GameTransport double; tests push inbound
// events through its channel and inspect recorded calls.
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	joinErr    error
	connected  bool
	closed     bool
	joins      []joinCall
	leaves     []string
	moves      []moveCall
	heartbeats int
	events     chan TransportEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan TransportEvent, 16)}
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return &ConnectionError{Err: t.connectErr}
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Join(ctx context.Context, matchID string, seat int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.joinErr != nil {
		return &ConnectionError{Err: t.joinErr}
	}
	t.joins = append(t.joins, joinCall{matchID: matchID, seat: seat})
	return nil
}

func (t *fakeTransport) Leave(ctx context.Context, matchID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves = append(t.leaves, matchID)
	return nil
}

func (t *fakeTransport) SendMove(ctx context.Context, matchID string, seat int, move int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.moves = append(t.moves, moveCall{matchID: matchID, seat: seat, move: move})
	return nil
}

func (t *fakeTransport) SendHeartbeat(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heartbeats++
	return nil
}

func (t *fakeTransport) Events() <-chan TransportEvent { return t.events }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) sentMoves() []moveCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]moveCall(nil), t.moves...)
}

func (t *fakeTransport) joinedMatches() []joinCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]joinCall(nil), t.joins...)
}

// fakeTransports hands out one recorded fake per client id.
type fakeTransports struct {
	mu         sync.Mutex
	connectErr error
	byClient   map[string]*fakeTransport
}

func newFakeTransports() *fakeTransports {
	return &fakeTransports{byClient: make(map[string]*fakeTransport)}
}

func (f *fakeTransports) factory() TransportFactory {
	return func(clientID, handle string) GameTransport {
		f.mu.Lock()
		defer f.mu.Unlock()
		t := newFakeTransport()
		t.connectErr = f.connectErr
		f.byClient[clientID] = t
		return t
	}
}

func (f *fakeTransports) get(clientID string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byClient[clientID]
}

// fakeProvider is a scriptable DecisionProvider double.
type fakeProvider struct {
	mu    sync.Mutex
	move  *int
	err   error
	gate  chan struct{} // when set, ProposeMove blocks until it closes
	calls int
}

func (p *fakeProvider) ProposeMove(ctx context.Context, snap *Snapshot, analysis *Analysis, behavior models.BehaviorConfig) (*int, error) {
	p.mu.Lock()
	p.calls++
	gate := p.gate
	move, err := p.move, p.err
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &DecisionProviderError{Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, &DecisionProviderError{Err: fmt.Errorf("scripted: %w", err)}
	}
	return move, nil
}

func intPtr(n int) *int { return &n }

func boolPtr(b bool) *bool { return &b }

func defaultBehavior() models.BehaviorConfig {
	return models.BehaviorConfig{EndpointURL: "http://decider.local/move"}
}
