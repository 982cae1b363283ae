package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ai-player-service/models"
)

// CreateClientSpec is the operator-supplied shape for registering a new
// automated player.
type CreateClientSpec struct {
	Name     string                 `json:"name"`
	GameType string                 `json:"game_type,omitempty"`
	Behavior *models.BehaviorConfig `json:"behavior"`
}

// ClientRegistry owns the set of runtime connections: it creates, stops
// and reconnects them and mirrors their status into the durable store.
// It is the only writer to the store.
type ClientRegistry struct {
	store            ClientStore
	transportFactory TransportFactory
	provider         DecisionProvider
	matchAPI         MatchAPI
	heartbeatPeriod  time.Duration

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewClientRegistry(store ClientStore, factory TransportFactory, provider DecisionProvider,
	matchAPI MatchAPI, heartbeatPeriod time.Duration) *ClientRegistry {

	return &ClientRegistry{
		store:            store,
		transportFactory: factory,
		provider:         provider,
		matchAPI:         matchAPI,
		heartbeatPeriod:  heartbeatPeriod,
		conns:            make(map[string]*Connection),
	}
}

// persister builds the connection's hook for mirroring liveness and
// status into the store. Write failures are logged and swallowed.
func (r *ClientRegistry) persister(id string) func(fields map[string]interface{}) {
	return func(fields map[string]interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.Update(ctx, id, fields); err != nil {
			log.Warn().Err(err).Str("client_id", id).Msg("record mirror write failed")
		}
	}
}

func (r *ClientRegistry) buildConnection(record *models.AIClient) *Connection {
	transport := r.transportFactory(record.ID, record.Handle)
	engine := NewDecisionEngine(record.Behavior, r.provider)
	conn := NewConnection(record, transport, engine, r.heartbeatPeriod, r.persister(record.ID))
	r.mu.Lock()
	r.conns[record.ID] = conn
	r.mu.Unlock()
	return conn
}

func (r *ClientRegistry) connection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Create registers a new automated player, persists it and attempts the
// first connection. The behavior configuration (with a decision endpoint)
// is required; there is no default provider.
func (r *ClientRegistry) Create(ctx context.Context, spec CreateClientSpec) (*models.ClientStatusView, error) {
	if spec.Behavior == nil {
		return nil, &ConfigurationError{Field: "behavior", Reason: "behavior configuration is required"}
	}
	if spec.Behavior.EndpointURL == "" {
		return nil, &ConfigurationError{Field: "behavior.endpoint_url", Reason: "decision endpoint is required"}
	}
	if spec.Name == "" {
		return nil, &ConfigurationError{Field: "name", Reason: "name is required"}
	}

	record := &models.AIClient{
		ID:       uuid.NewString(),
		Name:     spec.Name,
		Handle:   slug.Make(spec.Name),
		GameType: spec.GameType,
		Status:   models.StatusCreated,
		Behavior: *spec.Behavior,
	}
	if err := r.store.Create(ctx, record); err != nil {
		return nil, err
	}

	conn := r.buildConnection(record)
	status := models.StatusConnected
	if err := conn.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("client_id", record.ID).Msg("initial connect failed")
		status = models.StatusError
	}
	r.persister(record.ID)(map[string]interface{}{"status": status})
	record.Status = status

	view := record.StatusView(conn.Status())
	return &view, nil
}

// Stop disconnects one client. Stopping an already-disconnected client is
// a no-op; an unknown id is a NotFoundError.
func (r *ClientRegistry) Stop(ctx context.Context, id string) error {
	conn, ok := r.connection(id)
	if !ok {
		record, err := r.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if record.Status == models.StatusDisconnected {
			return nil
		}
		return &NotFoundError{ClientID: id}
	}

	if err := conn.Stop(); err != nil {
		log.Warn().Err(err).Str("client_id", id).Msg("transport close failed during stop")
	}
	r.persister(id)(map[string]interface{}{"status": models.StatusDisconnected})

	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
	return nil
}

// Reconnect rebuilds a runtime connection from the persisted record and
// its match binding. Used for operator retries and startup recovery.
func (r *ClientRegistry) Reconnect(ctx context.Context, id string) error {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if old, ok := r.connection(id); ok {
		if err := old.Stop(); err != nil {
			log.Warn().Err(err).Str("client_id", id).Msg("stopping stale connection before reconnect")
		}
	}

	r.persister(id)(map[string]interface{}{"status": models.StatusConnecting})
	conn := r.buildConnection(record)
	if err := conn.Connect(ctx); err != nil {
		r.persister(id)(map[string]interface{}{"status": models.StatusError})
		return err
	}
	r.persister(id)(map[string]interface{}{"status": models.StatusConnected})
	return nil
}

// ListAll merges persisted records with live connection status; the live
// status wins. A store read failure degrades to memory-only rather than
// failing the call.
func (r *ClientRegistry) ListAll(ctx context.Context) []models.ClientStatusView {
	records, err := r.store.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("store list failed, serving in-memory status only")
		r.mu.RLock()
		defer r.mu.RUnlock()
		views := make([]models.ClientStatusView, 0, len(r.conns))
		for id, conn := range r.conns {
			views = append(views, models.ClientStatusView{
				ID:     id,
				Name:   conn.Name,
				Handle: conn.Handle,
				Status: conn.Status(),
				Live:   true,
			})
		}
		return views
	}

	views := make([]models.ClientStatusView, 0, len(records))
	for i := range records {
		live := ""
		if conn, ok := r.connection(records[i].ID); ok {
			live = conn.Status()
		}
		views = append(views, records[i].StatusView(live))
	}
	return views
}

// Activity returns the live connection's recent activity lines.
func (r *ClientRegistry) Activity(id string) ([]string, error) {
	conn, ok := r.connection(id)
	if !ok {
		return nil, &NotFoundError{ClientID: id}
	}
	return conn.Activity(), nil
}

// AssignToMatch binds a client to a match seat, persists the binding and
// instructs the connection to join. The game type must be known either
// from the call or the record; this service never guesses one. A seat
// occupant with no record yet gets a minimal one (status created, empty
// behavior, so the engine runs on the fallback policy until an operator
// configures a decision endpoint).
func (r *ClientRegistry) AssignToMatch(ctx context.Context, id, matchID string, seatIndex int, gameType string) error {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		if !errors.As(err, new(*NotFoundError)) {
			return err
		}
		record = nil
	}
	if record != nil && gameType == "" {
		gameType = record.GameType
	}
	if gameType == "" {
		return &MissingGameTypeError{ClientID: id, MatchID: matchID}
	}
	if record == nil {
		record = &models.AIClient{
			ID:       id,
			Name:     id,
			Handle:   slug.Make(id),
			GameType: gameType,
			Status:   models.StatusCreated,
		}
		if err := r.store.Create(ctx, record); err != nil {
			return err
		}
		log.Info().Str("client_id", id).Str("match_id", matchID).
			Msg("discovered ai seat without a record, created one")
	}

	if r.matchAPI != nil {
		if err := r.matchAPI.UpdateSeatPlayer(ctx, matchID, seatIndex, id); err != nil {
			log.Warn().Err(err).Str("client_id", id).Str("match_id", matchID).
				Msg("seat binding update at match service failed")
		}
	}

	if err := r.store.Update(ctx, id, map[string]interface{}{
		"match_id":   matchID,
		"seat_index": seatIndex,
		"game_type":  gameType,
	}); err != nil {
		return err
	}
	record.MatchID = &matchID
	record.SeatIndex = &seatIndex
	record.GameType = gameType

	conn, ok := r.connection(id)
	if !ok {
		conn = r.buildConnection(record)
		if err := conn.Connect(ctx); err != nil {
			r.persister(id)(map[string]interface{}{"status": models.StatusError})
			return err
		}
		// Connect already performed the join from the persisted binding.
		r.persister(id)(map[string]interface{}{"status": models.StatusConnected})
		return nil
	}

	if err := conn.Join(ctx, matchID, seatIndex, gameType); err != nil {
		return err
	}
	return nil
}

// StopAll stops every tracked client concurrently, best-effort.
func (r *ClientRegistry) StopAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := r.Stop(ctx, id); err != nil && !errors.As(err, new(*NotFoundError)) {
				log.Warn().Err(err).Str("client_id", id).Msg("stop failed during stop-all")
			}
			return nil
		})
	}
	g.Wait()
	log.Info().Int("count", len(ids)).Msg("stop-all complete")
}

// FlagStaleHeartbeats marks connected records whose liveness signal has
// gone quiet as errored, so operators see the divergence and the next
// recovery pass retries them.
func (r *ClientRegistry) FlagStaleHeartbeats(ctx context.Context, maxAge time.Duration) int {
	records, err := r.store.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("stale sweep: could not list records")
		return 0
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	flagged := 0
	for i := range records {
		rec := &records[i]
		if rec.Status != models.StatusConnected {
			continue
		}
		if rec.LastHeartbeatAt != nil && rec.LastHeartbeatAt.After(cutoff) {
			continue
		}
		if conn, ok := r.connection(rec.ID); ok && conn.Status() == models.StatusConnected {
			// Live and connected in this process; the record is just behind.
			continue
		}
		r.persister(rec.ID)(map[string]interface{}{"status": models.StatusError})
		flagged++
		log.Warn().Str("client_id", rec.ID).Msg("flagged stale heartbeat")
	}
	return flagged
}

// RecoverAll reconnects every persisted client after a short grace delay
// so the store and downstream services can come up first. An empty table
// is a no-op, not an error.
func (r *ClientRegistry) RecoverAll(ctx context.Context, grace time.Duration) (recovered, failed int) {
	select {
	case <-time.After(grace):
	case <-ctx.Done():
		return 0, 0
	}

	records, err := r.store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("startup recovery: could not list records")
		return 0, 0
	}
	for i := range records {
		if err := r.Reconnect(ctx, records[i].ID); err != nil {
			failed++
			log.Warn().Err(err).Str("client_id", records[i].ID).Msg("startup reconnect failed")
			continue
		}
		recovered++
	}
	log.Info().Int("recovered", recovered).Int("failed", failed).Msg("startup recovery complete")
	return recovered, failed
}
