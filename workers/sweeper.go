// workers/sweeper.go
package workers

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"ai-player-service/services"
)

// StartSweeps schedules the background safety nets: a periodic
// reconciliation scan (covers notification gaps) and a stale-heartbeat
// sweep (flags records whose liveness signal went quiet).
func StartSweeps(ctx context.Context, registry *services.ClientRegistry,
	orch *SessionOrchestrator, heartbeatPeriod time.Duration) (gocron.Scheduler, error) {

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			orch.Reconcile(ctx)
		}),
	)
	if err != nil {
		return nil, err
	}

	staleAfter := 3 * heartbeatPeriod
	_, err = sched.NewJob(
		gocron.DurationJob(heartbeatPeriod),
		gocron.NewTask(func() {
			if flagged := registry.FlagStaleHeartbeats(ctx, staleAfter); flagged > 0 {
				log.Info().Int("flagged", flagged).Msg("stale heartbeat sweep")
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
