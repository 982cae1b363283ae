package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Lifecycle statuses for an AI client. The durable status mirrors the
// runtime connection state; they may diverge for at most one reconnect
// cycle after a crash.
const (
	StatusCreated       = "created"
	StatusConnecting    = "connecting"
	StatusConnected     = "connected"
	StatusDisconnecting = "disconnecting"
	StatusDisconnected  = "disconnected"
	StatusError         = "error"
)

// AIClient is the durable record for one automated player. A nil MatchID
// means the client is in the lobby (unattached); any other value must
// refer to a match the match service still considers active.
type AIClient struct {
	ID       string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name     string `gorm:"not null" json:"name"`
	Handle   string `gorm:"index" json:"handle"` // slug of Name, used as the transport player handle
	GameType string `json:"game_type"`           // e.g., "tictactoe", "connect4"; empty until first assignment
	Status   string `gorm:"type:varchar(16);default:'created'" json:"status"`

	MatchID   *string `gorm:"index" json:"match_id,omitempty"`
	SeatIndex *int    `json:"seat_index,omitempty"`

	Behavior BehaviorConfig `gorm:"type:jsonb" json:"behavior"`

	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`

	Timestamps
}

func (AIClient) TableName() string { return "ai_clients" }

// BehaviorConfig is the per-client decision configuration blob, stored as
// JSONB on the record and never normalized into columns.
type BehaviorConfig struct {
	// Decision endpoint
	EndpointURL string `json:"endpoint_url"`
	APIKey      string `json:"api_key,omitempty"`
	Model       string `json:"model,omitempty"`

	// Generation parameters
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`

	// Per-game prompt overrides, keyed by game type.
	GamePrompts map[string]string `json:"game_prompts,omitempty"`

	// Pacing: artificial "thinking time" bounds in milliseconds, so the
	// bot does not reply instantly on trivial boards.
	MinThinkMs int `json:"min_think_ms,omitempty"`
	MaxThinkMs int `json:"max_think_ms,omitempty"`

	// Feature toggles
	Lookahead          bool `json:"lookahead,omitempty"`
	PatternRecognition bool `json:"pattern_recognition,omitempty"`
	PlanningDepth      int  `json:"planning_depth,omitempty"`
	RealtimeMode       bool `json:"realtime_mode,omitempty"`

	// Validation toggles. Unset means enabled; only an explicit false
	// turns them off.
	ValidateMoves *bool `json:"validate_moves,omitempty"`
	UseFallback   *bool `json:"use_fallback,omitempty"`
}

// MovesValidated reports whether provider moves are checked against the
// legal set. On unless explicitly disabled.
func (b *BehaviorConfig) MovesValidated() bool {
	return b.ValidateMoves == nil || *b.ValidateMoves
}

// FallbackEnabled reports whether the local policy resolves the turn
// when the provider cannot. On unless explicitly disabled.
func (b *BehaviorConfig) FallbackEnabled() bool {
	return b.UseFallback == nil || *b.UseFallback
}

// Value implements driver.Valuer so gorm can write the blob as jsonb.
func (b BehaviorConfig) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner for reading the jsonb column back.
func (b *BehaviorConfig) Scan(value interface{}) error {
	if value == nil {
		*b = BehaviorConfig{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
	return json.Unmarshal(data, b)
}

// ClientStatusView is what the ops API returns: the durable record merged
// with whatever the live connection reports.
type ClientStatusView struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Handle          string     `json:"handle"`
	GameType        string     `json:"game_type"`
	Status          string     `json:"status"`
	Live            bool       `json:"live"` // true when a runtime connection exists in this process
	MatchID         *string    `json:"match_id,omitempty"`
	SeatIndex       *int       `json:"seat_index,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// StatusView projects the record with an optional live status override.
func (c *AIClient) StatusView(liveStatus string) ClientStatusView {
	v := ClientStatusView{
		ID:              c.ID,
		Name:            c.Name,
		Handle:          c.Handle,
		GameType:        c.GameType,
		Status:          c.Status,
		MatchID:         c.MatchID,
		SeatIndex:       c.SeatIndex,
		LastHeartbeatAt: c.LastHeartbeatAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if liveStatus != "" {
		v.Status = liveStatus
		v.Live = true
	}
	return v
}
