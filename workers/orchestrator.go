// workers/orchestrator.go
package workers

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"ai-player-service/services"
)

// SessionOrchestrator turns "match is now playing" signals into joined AI
// seats. The notification listener and the startup reconciliation both
// resolve to the same join path, so a restart never loses a transition.
type SessionOrchestrator struct {
	registry *services.ClientRegistry
	matchAPI services.MatchAPI
}

func NewSessionOrchestrator(registry *services.ClientRegistry, matchAPI services.MatchAPI) *SessionOrchestrator {
	return &SessionOrchestrator{registry: registry, matchAPI: matchAPI}
}

// HandleMatchPlaying joins every automated seat of one match. Per-seat
// failures are isolated: one bad seat never blocks the others.
func (o *SessionOrchestrator) HandleMatchPlaying(ctx context.Context, matchID, gameType string) error {
	seats, err := o.matchAPI.GetSeats(ctx, matchID)
	if err != nil {
		return err
	}

	aiSeats := lo.Filter(seats, func(s services.MatchSeat, _ int) bool {
		return s.PlayerType == services.SeatTypeAI && s.JoinStatus == services.SeatJoined && s.PlayerID != ""
	})
	if len(aiSeats) == 0 {
		log.Debug().Str("match_id", matchID).Msg("no automated seats to join")
		return nil
	}

	joined := 0
	for _, seat := range aiSeats {
		err := o.registry.AssignToMatch(ctx, seat.PlayerID, matchID, seat.SeatIndex, gameType)
		if err != nil {
			var missing *services.MissingGameTypeError
			if errors.As(err, &missing) {
				log.Error().Str("client_id", seat.PlayerID).Str("match_id", matchID).
					Msg("join refused: no game type on event or record")
			} else {
				log.Warn().Err(err).Str("client_id", seat.PlayerID).Str("match_id", matchID).
					Int("seat", seat.SeatIndex).Msg("seat join failed")
			}
			continue
		}
		joined++
	}
	log.Info().Str("match_id", matchID).Int("joined", joined).Int("ai_seats", len(aiSeats)).
		Msg("processed playing match")
	return nil
}

// Reconcile scans every match the match service currently reports as
// playing and processes each as if its transition event had just arrived.
// Run once at startup and periodically as a safety net.
func (o *SessionOrchestrator) Reconcile(ctx context.Context) {
	matches, err := o.matchAPI.GetPlayingMatches(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconciliation: could not list playing matches")
		return
	}
	for _, m := range matches {
		if err := o.HandleMatchPlaying(ctx, m.ID, m.GameType); err != nil {
			log.Warn().Err(err).Str("match_id", m.ID).Msg("reconciliation: match processing failed")
		}
	}
	log.Info().Int("matches", len(matches)).Msg("reconciliation scan complete")
}
