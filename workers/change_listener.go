// workers/change_listener.go
package workers

import (
	"context"
	"encoding/json"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"ai-player-service/services"
)

// MatchChangeEvent is the change-feed payload for a match record: an
// operation tag plus the new row. Only status transitions to "playing"
// are acted on; everything else is ignored.
type MatchChangeEvent struct {
	Op     string `json:"op"` // "INSERT" | "UPDATE"
	Record struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		GameType string `json:"game_type"`
	} `json:"record"`
}

// ChangeListener holds the one shared subscription to the match change
// feed and forwards playable transitions to the orchestrator.
type ChangeListener struct {
	url     string
	subject string
	orch    *SessionOrchestrator

	nc  *nats.Conn
	sub *nats.Subscription
}

func NewChangeListener(natsURL, subject string, orch *SessionOrchestrator) *ChangeListener {
	return &ChangeListener{url: natsURL, subject: subject, orch: orch}
}

// Start connects with bounded backoff and subscribes. The NATS client
// keeps reconnecting (and re-subscribing) on its own if the channel
// connection later drops; the periodic reconciliation sweep covers any
// window where events were missed anyway.
func (l *ChangeListener) Start(ctx context.Context) error {
	err := retry.Do(
		func() error {
			nc, err := nats.Connect(l.url,
				nats.MaxReconnects(-1),
				nats.ReconnectWait(2*time.Second),
				nats.ReconnectHandler(func(nc *nats.Conn) {
					log.Warn().Str("url", nc.ConnectedUrl()).Msg("change feed reconnected")
				}),
				nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
					log.Warn().Err(err).Msg("change feed connection dropped")
				}),
			)
			if err != nil {
				return err
			}
			l.nc = nc
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		return err
	}

	sub, err := l.nc.Subscribe(l.subject, func(m *nats.Msg) {
		l.handle(ctx, m.Data)
	})
	if err != nil {
		l.nc.Close()
		return err
	}
	l.sub = sub
	l.nc.Flush()

	log.Info().Str("subject", l.subject).Msg("listening for match changes")
	return nil
}

// handle processes one change event. A failure on one event must never
// prevent handling of subsequent events, so everything is logged, nothing
// propagates.
func (l *ChangeListener) handle(ctx context.Context, data []byte) {
	var ev MatchChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("unparseable change event")
		return
	}
	if ev.Record.ID == "" || ev.Record.Status != services.MatchStatusPlaying {
		return
	}

	log.Info().Str("match_id", ev.Record.ID).Str("op", ev.Op).Msg("match transitioned to playing")
	if err := l.orch.HandleMatchPlaying(ctx, ev.Record.ID, ev.Record.GameType); err != nil {
		log.Warn().Err(err).Str("match_id", ev.Record.ID).Msg("failed to process playing match")
	}
}

func (l *ChangeListener) Close() {
	if l.sub != nil {
		l.sub.Unsubscribe()
	}
	if l.nc != nil {
		l.nc.Close()
	}
}
