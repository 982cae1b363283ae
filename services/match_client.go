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
)

const (
	SeatTypeHuman = "human"
	SeatTypeAI    = "ai"

	SeatJoined  = "joined"
	SeatPending = "pending"

	MatchStatusWaiting  = "waiting"
	MatchStatusPlaying  = "playing"
	MatchStatusFinished = "finished"
)

// MatchSeat is one occupant slot in a match as reported by the match service.
type MatchSeat struct {
	SeatIndex  int    `json:"seat_index"`
	PlayerType string `json:"player_type"` // "human" | "ai"
	JoinStatus string `json:"join_status"` // "joined" | "pending"
	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
}

// MatchSummary is the subset of a match record this service reads.
type MatchSummary struct {
	ID       string `json:"id"`
	GameType string `json:"game_type"`
	Status   string `json:"status"`
}

// MatchAPI is the boundary to the authoritative match service. The real
// implementation talks HTTP through the gateway; tests inject a fake.
type MatchAPI interface {
	GetSeats(ctx context.Context, matchID string) ([]MatchSeat, error)
	GetPlayingMatches(ctx context.Context) ([]MatchSummary, error)
	UpdateSeatPlayer(ctx context.Context, matchID string, seatIndex int, playerID string) error
}

// MatchServiceClient calls the match service's internal REST API.
type MatchServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewMatchServiceClient(baseURL, token string) *MatchServiceClient {
	return &MatchServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *MatchServiceClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token) // service → match service token

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("path", path).Int("status", resp.StatusCode).
			Str("body", string(raw)).Msg("match service call failed")
		return fmt.Errorf("match service %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *MatchServiceClient) GetSeats(ctx context.Context, matchID string) ([]MatchSeat, error) {
	var out struct {
		Seats []MatchSeat `json:"seats"`
	}
	if err := c.do(ctx, http.MethodGet, "/matches/"+matchID+"/seats", nil, &out); err != nil {
		return nil, err
	}
	return out.Seats, nil
}

func (c *MatchServiceClient) GetPlayingMatches(ctx context.Context) ([]MatchSummary, error) {
	var out struct {
		Matches []MatchSummary `json:"matches"`
	}
	if err := c.do(ctx, http.MethodGet, "/matches?status="+MatchStatusPlaying, nil, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

func (c *MatchServiceClient) UpdateSeatPlayer(ctx context.Context, matchID string, seatIndex int, playerID string) error {
	body := map[string]interface{}{
		"player_id":   playerID,
		"player_type": SeatTypeAI,
	}
	path := fmt.Sprintf("/matches/%s/seats/%d/player", matchID, seatIndex)
	return c.do(ctx, http.MethodPut, path, body, nil)
}
