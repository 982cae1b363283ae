package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-player-service/models"
	"ai-player-service/utils"
)

const DefaultHeartbeatPeriod = 30 * time.Second

var errConnectionDown = errors.New("connection is not running")

// connCommand is a control message injected into the connection's event
// loop. All state transitions for one client are serialized through that
// loop, so a manual stop can never race an inbound disconnect.
type connCommand struct {
	kind     string // "join" | "stop"
	matchID  string
	seat     int
	gameType string
	reply    chan error
}

// decisionResult is the eventual outcome of an asynchronous decision
// call. It is re-validated against the cached snapshot at emission time;
// a result that arrives after game end is discarded.
type decisionResult struct {
	matchID string
	move    *int
}

// Connection owns one automated player's live link to a single match:
// it connects, joins a seat, reacts to state syncs, asks the decision
// engine for a move on its turn, and keeps a periodic liveness signal.
type Connection struct {
	ID     string
	Name   string
	Handle string

	transport GameTransport
	engine    *DecisionEngine
	behavior  models.BehaviorConfig
	activity  *utils.RingLog
	logger    zerolog.Logger

	// persist is the registry's hook for durable side effects (status,
	// liveness timestamp). Best-effort: failures are logged there, never
	// surfaced into the turn path.
	persist func(fields map[string]interface{})

	heartbeatPeriod time.Duration

	mu           sync.Mutex
	status       string
	matchID      string
	seat         int
	gameType     string
	running      bool
	lastSnapshot *Snapshot
	gameEnded    bool
	pendingMove  bool

	cmds    chan connCommand
	results chan decisionResult
	loopEnd chan struct{}
}

func NewConnection(record *models.AIClient, transport GameTransport, engine *DecisionEngine,
	heartbeatPeriod time.Duration, persist func(fields map[string]interface{})) *Connection {

	if heartbeatPeriod <= 0 {
		heartbeatPeriod = DefaultHeartbeatPeriod
	}
	c := &Connection{
		ID:              record.ID,
		Name:            record.Name,
		Handle:          record.Handle,
		transport:       transport,
		engine:          engine,
		behavior:        record.Behavior,
		activity:        utils.NewRingLog(128),
		logger:          log.With().Str("client_id", record.ID).Str("handle", record.Handle).Logger(),
		persist:         persist,
		heartbeatPeriod: heartbeatPeriod,
		status:          models.StatusCreated,
		gameType:        record.GameType,
		cmds:            make(chan connCommand, 8),
		results:         make(chan decisionResult, 4),
		loopEnd:         make(chan struct{}),
	}
	if record.MatchID != nil {
		c.matchID = *record.MatchID
	}
	if record.SeatIndex != nil {
		c.seat = *record.SeatIndex
	}
	return c
}

// Status returns the connection's current lifecycle status.
func (c *Connection) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Activity returns the recent activity lines, oldest first.
func (c *Connection) Activity() []string {
	return c.activity.Lines()
}

func (c *Connection) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.activity.Addf("status -> %s", status)
}

// Connect opens the transport and, when a match binding is already known
// from the record, performs the join handshake before declaring the
// connection live. The caller persists the resulting status.
func (c *Connection) Connect(ctx context.Context) error {
	c.setStatus(models.StatusConnecting)

	if err := c.transport.Connect(ctx); err != nil {
		c.setStatus(models.StatusError)
		return err
	}

	c.mu.Lock()
	matchID, seat := c.matchID, c.seat
	c.mu.Unlock()
	if matchID != "" {
		if err := c.transport.Join(ctx, matchID, seat); err != nil {
			c.setStatus(models.StatusError)
			c.transport.Close()
			return err
		}
		c.activity.Addf("rejoined match %s seat %d", matchID, seat)
	}

	c.mu.Lock()
	c.running = true
	c.loopEnd = make(chan struct{})
	c.mu.Unlock()
	go c.run()

	c.setStatus(models.StatusConnected)
	c.logger.Info().Str("match_id", matchID).Msg("ai client connected")
	return nil
}

// Join binds the connection to a match seat. A second join with a
// different match explicitly leaves the old one before rebinding.
func (c *Connection) Join(ctx context.Context, matchID string, seat int, gameType string) error {
	c.mu.Lock()
	running := c.running
	loopEnd := c.loopEnd
	c.mu.Unlock()
	if !running {
		return &ConnectionError{ClientID: c.ID, Err: errConnectionDown}
	}

	reply := make(chan error, 1)
	select {
	case c.cmds <- connCommand{kind: "join", matchID: matchID, seat: seat, gameType: gameType, reply: reply}:
	case <-loopEnd:
		return &ConnectionError{ClientID: c.ID, Err: errConnectionDown}
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-loopEnd:
		return &ConnectionError{ClientID: c.ID, Err: errConnectionDown}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop disconnects the transport and ends the event loop. Safe to call
// from any state; a second stop on an already-down connection is a no-op.
func (c *Connection) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.status = models.StatusDisconnected
		c.mu.Unlock()
		return nil
	}
	loopEnd := c.loopEnd
	c.mu.Unlock()

	reply := make(chan error, 1)
	select {
	case c.cmds <- connCommand{kind: "stop", reply: reply}:
	case <-loopEnd:
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-loopEnd:
		return nil
	}
}

// run is the single consumer for transport events, control commands,
// decision results and heartbeat ticks.
func (c *Connection) run() {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		close(c.loopEnd)
	}()

	heartbeat := time.NewTicker(c.heartbeatPeriod)
	defer heartbeat.Stop()
	c.beat() // liveness signal immediately once connected

	for {
		select {
		case ev, ok := <-c.transport.Events():
			if !ok {
				c.setStatus(models.StatusError)
				c.persistStatus(models.StatusError)
				return
			}
			switch ev.Type {
			case EventStateSync:
				c.handleStateSync(ev.Snapshot)
			case EventDisconnect:
				c.logger.Warn().Err(ev.Err).Msg("transport dropped")
				c.setStatus(models.StatusError)
				c.persistStatus(models.StatusError)
				return
			case EventError:
				c.logger.Warn().Err(ev.Err).Msg("transport error event")
				c.activity.Addf("transport error: %v", ev.Err)
			}

		case res := <-c.results:
			c.handleDecisionResult(res)

		case cmd := <-c.cmds:
			switch cmd.kind {
			case "join":
				cmd.reply <- c.handleJoin(cmd)
			case "stop":
				c.setStatus(models.StatusDisconnecting)
				err := c.transport.Close()
				c.setStatus(models.StatusDisconnected)
				cmd.reply <- err
				return
			}

		case <-heartbeat.C:
			c.beat()
		}
	}
}

func (c *Connection) handleJoin(cmd connCommand) error {
	c.mu.Lock()
	oldMatch := c.matchID
	c.mu.Unlock()

	if oldMatch != "" && oldMatch != cmd.matchID {
		// Tell the game server we are leaving before rebinding; dropping
		// the reference alone would strand the old seat.
		if err := c.transport.Leave(context.Background(), oldMatch); err != nil {
			c.logger.Warn().Err(err).Str("match_id", oldMatch).Msg("leave on rebind failed")
		}
		c.activity.Addf("left match %s", oldMatch)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsJoinTimeout)
	defer cancel()
	if err := c.transport.Join(ctx, cmd.matchID, cmd.seat); err != nil {
		return err
	}

	c.mu.Lock()
	c.matchID = cmd.matchID
	c.seat = cmd.seat
	if cmd.gameType != "" {
		c.gameType = cmd.gameType
	}
	c.gameEnded = false
	c.lastSnapshot = nil
	c.pendingMove = false
	c.mu.Unlock()

	c.activity.Addf("joined match %s seat %d (%s)", cmd.matchID, cmd.seat, cmd.gameType)
	c.logger.Info().Str("match_id", cmd.matchID).Int("seat", cmd.seat).Msg("joined match")
	return nil
}

func (c *Connection) handleStateSync(snap *Snapshot) {
	c.mu.Lock()
	if snap.GameType == "" {
		snap.GameType = c.gameType
	}
	c.lastSnapshot = snap
	if snap.GameOver() {
		alreadyEnded := c.gameEnded
		c.gameEnded = true
		c.mu.Unlock()
		if !alreadyEnded {
			c.activity.Addf("match %s ended", snap.MatchID)
			c.logger.Info().Str("match_id", snap.MatchID).Msg("match ended")
			go c.archiveTranscript(snap)
		}
		return
	}
	if c.gameEnded {
		// Terminal per-match: no more moves until the next join.
		c.mu.Unlock()
		return
	}
	ourTurn := snap.CurrentSeat == c.seat
	pending := c.pendingMove
	seat := c.seat
	if ourTurn && !pending {
		c.pendingMove = true
	}
	c.mu.Unlock()

	if !ourTurn || pending {
		return
	}

	// The decision call runs off the loop so later syncs (in particular a
	// game-end) are still processed; the result is re-checked at emission.
	go func(snap *Snapshot, seat int) {
		start := time.Now()
		move := c.engine.Decide(context.Background(), snap, seat)
		c.pace(start)
		c.results <- decisionResult{matchID: snap.MatchID, move: move}
	}(snap, seat)
}

// pace holds the reply until the configured think-time window has
// passed, so the bot does not answer trivial positions instantly. With
// both bounds set the target is drawn uniformly between them.
func (c *Connection) pace(start time.Time) {
	lo := time.Duration(c.behavior.MinThinkMs) * time.Millisecond
	hi := time.Duration(c.behavior.MaxThinkMs) * time.Millisecond
	if lo <= 0 && hi <= 0 {
		return
	}
	target := lo
	if hi > lo {
		target = lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
	}
	if elapsed := time.Since(start); elapsed < target {
		time.Sleep(target - elapsed)
	}
}

// handleDecisionResult performs the emission-time check: the move goes
// out only when the match is still live and it is still this seat's turn.
func (c *Connection) handleDecisionResult(res decisionResult) {
	c.mu.Lock()
	c.pendingMove = false
	ended := c.gameEnded
	matchID := c.matchID
	seat := c.seat
	stillOurTurn := c.lastSnapshot != nil && c.lastSnapshot.CurrentSeat == seat
	c.mu.Unlock()

	if res.move == nil {
		c.activity.Addf("no legal move available in match %s", res.matchID)
		return
	}
	if ended || res.matchID != matchID || !stillOurTurn {
		c.activity.Addf("discarding stale move %d for match %s", *res.move, res.matchID)
		c.logger.Debug().Int("move", *res.move).Str("match_id", res.matchID).Msg("discarding stale move")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := c.transport.SendMove(ctx, matchID, seat, *res.move); err != nil {
		c.logger.Warn().Err(err).Int("move", *res.move).Msg("failed to emit move")
		c.activity.Addf("emit failed for move %d: %v", *res.move, err)
		return
	}
	c.activity.Addf("played move %d in match %s", *res.move, matchID)
}

// beat sends the liveness signal and mirrors it to the record. Failures
// are logged only; a missed heartbeat never takes the connection down.
func (c *Connection) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := c.transport.SendHeartbeat(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("heartbeat send failed")
		return
	}
	if c.persist != nil {
		c.persist(map[string]interface{}{"last_heartbeat_at": time.Now().UTC()})
	}
}

func (c *Connection) persistStatus(status string) {
	if c.persist != nil {
		c.persist(map[string]interface{}{"status": status})
	}
}

func (c *Connection) archiveTranscript(final *Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	t := &utils.Transcript{
		ClientID:      c.ID,
		MatchID:       final.MatchID,
		GameType:      final.GameType,
		FinalSnapshot: final.State,
		Activity:      c.activity.Lines(),
	}
	if err := utils.ArchiveTranscript(ctx, t); err != nil {
		c.logger.Warn().Err(err).Str("match_id", final.MatchID).Msg("transcript archive failed")
	}
}
