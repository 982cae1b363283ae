package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	EventStateSync  = "state_sync"
	EventJoined     = "joined"
	EventDisconnect = "disconnect"
	EventError      = "error"
)

// TransportEvent is one inbound event from the game transport.
type TransportEvent struct {
	Type     string
	Snapshot *Snapshot
	Err      error
}

// GameTransport is one automated player's bidirectional link to the game
// server. The wire protocol is opaque to the rest of the service; only
// this interface's semantics matter. Tests inject an in-memory double.
type GameTransport interface {
	// Connect opens the link and starts delivering events. Bounded; a
	// timeout or rejected handshake is a ConnectionError at the caller.
	Connect(ctx context.Context) error
	// Join binds this player to a match seat, performing the credential
	// handshake. Safe to call again with a different match after Leave.
	Join(ctx context.Context, matchID string, seat int) error
	// Leave detaches from a match without closing the link.
	Leave(ctx context.Context, matchID string) error
	SendMove(ctx context.Context, matchID string, seat int, move int) error
	SendHeartbeat(ctx context.Context) error
	// Events delivers state-sync, disconnect and error events in arrival
	// order. Closed when the transport closes.
	Events() <-chan TransportEvent
	Close() error
}

// TransportFactory builds a transport for one client; the registry holds
// one so tests and the websocket implementation wire in the same way.
type TransportFactory func(clientID, handle string) GameTransport

const (
	wsConnectTimeout = 20 * time.Second
	wsJoinTimeout    = 15 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// wire frame shared by both directions.
type wsFrame struct {
	Type      string          `json:"type"`
	MatchID   string          `json:"match_id,omitempty"`
	Seat      *int            `json:"seat,omitempty"`
	Move      *int            `json:"move,omitempty"`
	PlayerID  string          `json:"player_id,omitempty"`
	Handle    string          `json:"handle,omitempty"`
	SeatToken string          `json:"seat_token,omitempty"`
	Message   string          `json:"message,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
}

// WSTransport is the production GameTransport over a websocket to the
// game server's ai gateway.
type WSTransport struct {
	url      string
	clientID string
	handle   string

	mu        sync.Mutex
	conn      *websocket.Conn
	seatToken string // issued on join, reused on rebind to the same match
	tokenFor  string // match the token was issued for

	events  chan TransportEvent
	joinAck chan error
	closed  bool
}

// NewWSTransportFactory returns a factory dialing the given gateway URL.
func NewWSTransportFactory(gatewayURL string) TransportFactory {
	return func(clientID, handle string) GameTransport {
		return &WSTransport{
			url:      gatewayURL,
			clientID: clientID,
			handle:   handle,
			events:   make(chan TransportEvent, 32),
			joinAck:  make(chan error, 1),
		}
	}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, wsConnectTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?player_id=%s&handle=%s", t.url, t.clientID, t.handle)
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return &ConnectionError{ClientID: t.clientID, Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

// readLoop decodes inbound frames and forwards them as events, in arrival
// order, until the connection drops.
func (t *WSTransport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.mu.Lock()
			wasClosed := t.closed
			t.mu.Unlock()
			if !wasClosed {
				t.events <- TransportEvent{Type: EventDisconnect, Err: err}
			}
			close(t.events)
			return
		}

		switch frame.Type {
		case EventStateSync:
			var snap Snapshot
			if err := json.Unmarshal(frame.Snapshot, &snap); err != nil {
				log.Warn().Err(err).Str("client_id", t.clientID).Msg("bad snapshot frame")
				continue
			}
			t.events <- TransportEvent{Type: EventStateSync, Snapshot: &snap}
		case EventJoined:
			t.mu.Lock()
			t.seatToken = frame.SeatToken
			t.tokenFor = frame.MatchID
			t.mu.Unlock()
			select {
			case t.joinAck <- nil:
			default:
			}
		case EventError:
			err := fmt.Errorf("game server: %s", frame.Message)
			select {
			case t.joinAck <- err:
			default:
				t.events <- TransportEvent{Type: EventError, Err: err}
			}
		default:
			log.Debug().Str("type", frame.Type).Msg("ignoring unknown frame type")
		}
	}
}

func (t *WSTransport) writeFrame(frame wsFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return &ConnectionError{ClientID: t.clientID, Err: fmt.Errorf("not connected")}
	}
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteJSON(frame)
}

func (t *WSTransport) Join(ctx context.Context, matchID string, seat int) error {
	t.mu.Lock()
	token := ""
	if t.tokenFor == matchID {
		token = t.seatToken
	}
	t.mu.Unlock()

	frame := wsFrame{
		Type:      "join",
		MatchID:   matchID,
		Seat:      &seat,
		PlayerID:  t.clientID,
		Handle:    t.handle,
		SeatToken: token,
	}
	if err := t.writeFrame(frame); err != nil {
		return err
	}

	select {
	case err := <-t.joinAck:
		if err != nil {
			return &ConnectionError{ClientID: t.clientID, Err: err}
		}
		return nil
	case <-time.After(wsJoinTimeout):
		return &ConnectionError{ClientID: t.clientID, Err: fmt.Errorf("join handshake timed out for match %s", matchID)}
	case <-ctx.Done():
		return &ConnectionError{ClientID: t.clientID, Err: ctx.Err()}
	}
}

func (t *WSTransport) Leave(ctx context.Context, matchID string) error {
	return t.writeFrame(wsFrame{Type: "leave", MatchID: matchID, PlayerID: t.clientID})
}

func (t *WSTransport) SendMove(ctx context.Context, matchID string, seat int, move int) error {
	t.mu.Lock()
	token := t.seatToken
	t.mu.Unlock()
	return t.writeFrame(wsFrame{
		Type:      "move",
		MatchID:   matchID,
		Seat:      &seat,
		Move:      &move,
		PlayerID:  t.clientID,
		SeatToken: token,
	})
}

func (t *WSTransport) SendHeartbeat(ctx context.Context) error {
	return t.writeFrame(wsFrame{Type: "heartbeat", PlayerID: t.clientID})
}

func (t *WSTransport) Events() <-chan TransportEvent {
	return t.events
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}
