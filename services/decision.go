package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"ai-player-service/models"
)

// DecisionProvider proposes a move for the acting seat. Implementations
// must be bounded in time; a nil move with a non-nil error means the
// provider could not answer and the engine should fall back.
type DecisionProvider interface {
	ProposeMove(ctx context.Context, snap *Snapshot, analysis *Analysis, behavior models.BehaviorConfig) (*int, error)
}

const decisionCallTimeout = 8 * time.Second

// HTTPDecisionProvider normalizes any POST-style decision endpoint behind
// the provider contract: derived analysis and raw snapshot in, a numeric
// "move" field out. No retries: a failed call goes straight to fallback
// so turn latency stays bounded.
type HTTPDecisionProvider struct {
	Client *http.Client
}

func NewHTTPDecisionProvider() *HTTPDecisionProvider {
	return &HTTPDecisionProvider{
		Client: &http.Client{
			Timeout: decisionCallTimeout,
		},
	}
}

type decisionRequest struct {
	Model        string          `json:"model,omitempty"`
	MaxTokens    int             `json:"max_tokens,omitempty"`
	Temperature  float64         `json:"temperature,omitempty"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Analysis     *Analysis       `json:"analysis"`
	Snapshot     json.RawMessage `json:"snapshot"`
}

type decisionResponse struct {
	Move *int `json:"move"`
}

func (p *HTTPDecisionProvider) ProposeMove(ctx context.Context, snap *Snapshot, analysis *Analysis, behavior models.BehaviorConfig) (*int, error) {
	if behavior.EndpointURL == "" {
		return nil, &DecisionProviderError{Endpoint: "", Err: fmt.Errorf("no endpoint configured")}
	}

	prompt := behavior.SystemPrompt
	if override, ok := behavior.GamePrompts[snap.GameType]; ok {
		prompt = override
	}
	payload := decisionRequest{
		Model:        behavior.Model,
		MaxTokens:    behavior.MaxTokens,
		Temperature:  behavior.Temperature,
		SystemPrompt: prompt,
		Analysis:     analysis,
		Snapshot:     snap.State,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &DecisionProviderError{Endpoint: behavior.EndpointURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, behavior.EndpointURL, bytes.NewBuffer(data))
	if err != nil {
		return nil, &DecisionProviderError{Endpoint: behavior.EndpointURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if behavior.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+behavior.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &DecisionProviderError{Endpoint: behavior.EndpointURL, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DecisionProviderError{
			Endpoint: behavior.EndpointURL,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var out decisionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DecisionProviderError{Endpoint: behavior.EndpointURL, Err: err}
	}
	if out.Move == nil {
		return nil, &DecisionProviderError{
			Endpoint: behavior.EndpointURL,
			Err:      fmt.Errorf("response carries no move field: %s", string(raw)),
		}
	}
	return out.Move, nil
}

// DecisionEngine combines the analyzer's derived view with the provider's
// proposal and applies the deterministic fallback policy. Given at least
// one legal move it always returns a member of the legal set; it returns
// nil only when no legal move exists.
type DecisionEngine struct {
	behavior models.BehaviorConfig
	provider DecisionProvider
}

func NewDecisionEngine(behavior models.BehaviorConfig, provider DecisionProvider) *DecisionEngine {
	return &DecisionEngine{behavior: behavior, provider: provider}
}

func (e *DecisionEngine) Decide(ctx context.Context, snap *Snapshot, seat int) *int {
	analysis := Analyze(snap, seat)
	if len(analysis.LegalMoves) == 0 {
		return nil
	}

	var proposed *int
	if e.provider != nil {
		callCtx, cancel := context.WithTimeout(ctx, decisionCallTimeout)
		defer cancel()
		move, err := e.provider.ProposeMove(callCtx, snap, analysis, e.behavior)
		if err != nil {
			// Provider failures never abort the turn.
			log.Warn().Err(err).Str("match_id", snap.MatchID).Int("seat", seat).
				Msg("decision provider failed, using fallback")
		} else {
			proposed = move
		}
	}

	if proposed != nil {
		if !e.behavior.MovesValidated() || lo.Contains(analysis.LegalMoves, *proposed) {
			return proposed
		}
		log.Warn().Int("move", *proposed).Str("match_id", snap.MatchID).
			Msg("provider returned out-of-range move, using fallback")
	}

	if !e.behavior.FallbackEnabled() {
		log.Warn().Str("match_id", snap.MatchID).Int("seat", seat).
			Msg("fallback disabled and no valid provider move; skipping")
		return nil
	}
	return fallbackMove(analysis)
}

// fallbackMove applies the local policy in strict priority order: win
// immediately, block the opponent's immediate win, else the first legal
// move in enumeration order. Weak play, guaranteed termination.
func fallbackMove(analysis *Analysis) *int {
	if len(analysis.WinningMoves) > 0 {
		return &analysis.WinningMoves[0]
	}
	if len(analysis.BlockingMoves) > 0 {
		return &analysis.BlockingMoves[0]
	}
	if len(analysis.LegalMoves) > 0 {
		return &analysis.LegalMoves[0]
	}
	return nil
}
