package services

import (
	"encoding/json"
)

const (
	GameTicTacToe   = "tictactoe"
	GameConnectFour = "connect4"

	PhaseOpening = "opening"
	PhaseMidgame = "midgame"
	PhaseEndgame = "endgame"
)

// Snapshot is one state-sync frame from the game transport: the engine's
// serialized state plus turn/context metadata. State is game-specific and
// decoded by the analyzer.
type Snapshot struct {
	MatchID     string          `json:"match_id"`
	GameType    string          `json:"game_type"`
	Status      string          `json:"status"` // "playing" | "finished"
	CurrentSeat int             `json:"current_seat"`
	WinnerSeat  *int            `json:"winner_seat,omitempty"`
	State       json.RawMessage `json:"state"`
}

// GameOver reports whether the match has reached a terminal state.
func (s *Snapshot) GameOver() bool {
	return s.Status == MatchStatusFinished || s.WinnerSeat != nil
}

// Analysis is the derived decision input handed to the provider and the
// fallback policy. Move enumeration order is stable: the fallback's
// "first legal move" is deterministic for a given snapshot.
type Analysis struct {
	GameType      string   `json:"game_type"`
	Board         []string `json:"board,omitempty"` // flattened cells for the provider prompt
	LegalMoves    []int    `json:"legal_moves"`
	WinningMoves  []int    `json:"winning_moves"`
	BlockingMoves []int    `json:"blocking_moves"`
	Phase         string   `json:"phase"`
}

// ticTacToeState is a 3x3 board of "X"/"O"/"" cells; seat 0 plays X,
// seat 1 plays O; a move is a cell index 0..8.
type ticTacToeState struct {
	Board []string `json:"board"`
}

// connectFourState is 6 rows by 7 columns of "R"/"Y"/"" cells, row 0 at
// the bottom; seat 0 plays R, seat 1 plays Y; a move is a column 0..6.
type connectFourState struct {
	Board [][]string `json:"board"`
}

// genericState covers unrecognized game types: the engine is expected to
// enumerate its own legal moves.
type genericState struct {
	Moves          []int `json:"moves"`
	AvailableMoves []int `json:"availableMoves"`
}

// Analyze derives the decision inputs for the acting seat. An empty or
// unrecognized game type falls through to the generic probe; a snapshot
// with no usable state yields an empty legal-move set, never an error.
func Analyze(snap *Snapshot, seat int) *Analysis {
	switch snap.GameType {
	case GameTicTacToe:
		return analyzeTicTacToe(snap, seat)
	case GameConnectFour:
		return analyzeConnectFour(snap, seat)
	default:
		return analyzeGeneric(snap)
	}
}

var ticTacToeLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

func seatMark(gameType string, seat int) string {
	switch gameType {
	case GameTicTacToe:
		if seat == 0 {
			return "X"
		}
		return "O"
	case GameConnectFour:
		if seat == 0 {
			return "R"
		}
		return "Y"
	}
	return ""
}

func analyzeTicTacToe(snap *Snapshot, seat int) *Analysis {
	a := &Analysis{GameType: GameTicTacToe, LegalMoves: []int{}, WinningMoves: []int{}, BlockingMoves: []int{}}

	var st ticTacToeState
	if err := json.Unmarshal(snap.State, &st); err != nil || len(st.Board) != 9 {
		a.Phase = PhaseOpening
		return a
	}
	a.Board = st.Board

	mine := seatMark(GameTicTacToe, seat)
	theirs := "O"
	if mine == "O" {
		theirs = "X"
	}

	filled := 0
	for cell, v := range st.Board {
		if v == "" {
			a.LegalMoves = append(a.LegalMoves, cell)
		} else {
			filled++
		}
	}
	for _, cell := range a.LegalMoves {
		if ticTacToeWins(st.Board, cell, mine) {
			a.WinningMoves = append(a.WinningMoves, cell)
		}
		if ticTacToeWins(st.Board, cell, theirs) {
			a.BlockingMoves = append(a.BlockingMoves, cell)
		}
	}

	switch {
	case filled <= 2:
		a.Phase = PhaseOpening
	case filled <= 6:
		a.Phase = PhaseMidgame
	default:
		a.Phase = PhaseEndgame
	}
	return a
}

// ticTacToeWins reports whether placing mark at cell completes a line.
func ticTacToeWins(board []string, cell int, mark string) bool {
	for _, line := range ticTacToeLines {
		inLine := false
		complete := true
		for _, c := range line {
			switch {
			case c == cell:
				inLine = true
			case board[c] != mark:
				complete = false
			}
		}
		if inLine && complete {
			return true
		}
	}
	return false
}

const (
	c4Rows = 6
	c4Cols = 7
)

func analyzeConnectFour(snap *Snapshot, seat int) *Analysis {
	a := &Analysis{GameType: GameConnectFour, LegalMoves: []int{}, WinningMoves: []int{}, BlockingMoves: []int{}}

	var st connectFourState
	if err := json.Unmarshal(snap.State, &st); err != nil || len(st.Board) != c4Rows {
		a.Phase = PhaseOpening
		return a
	}
	for _, row := range st.Board {
		if len(row) != c4Cols {
			a.Phase = PhaseOpening
			return a
		}
	}
	for r := 0; r < c4Rows; r++ {
		a.Board = append(a.Board, st.Board[r]...)
	}

	mine := seatMark(GameConnectFour, seat)
	theirs := "Y"
	if mine == "Y" {
		theirs = "R"
	}

	pieces := 0
	for r := 0; r < c4Rows; r++ {
		for c := 0; c < c4Cols; c++ {
			if st.Board[r][c] != "" {
				pieces++
			}
		}
	}
	for col := 0; col < c4Cols; col++ {
		row := connectFourDropRow(st.Board, col)
		if row < 0 {
			continue
		}
		a.LegalMoves = append(a.LegalMoves, col)
		if connectFourWins(st.Board, row, col, mine) {
			a.WinningMoves = append(a.WinningMoves, col)
		}
		if connectFourWins(st.Board, row, col, theirs) {
			a.BlockingMoves = append(a.BlockingMoves, col)
		}
	}

	switch {
	case pieces <= 8:
		a.Phase = PhaseOpening
	case pieces <= 28:
		a.Phase = PhaseMidgame
	default:
		a.Phase = PhaseEndgame
	}
	return a
}

// connectFourDropRow returns the row a piece would land in, or -1 when the
// column is full. Row 0 is the bottom of the board.
func connectFourDropRow(board [][]string, col int) int {
	for r := 0; r < c4Rows; r++ {
		if board[r][col] == "" {
			return r
		}
	}
	return -1
}

var c4Directions = [4][2]int{
	{0, 1},  // horizontal
	{1, 0},  // vertical
	{1, 1},  // diagonal /
	{1, -1}, // diagonal \
}

// connectFourWins reports whether a mark landing at (row, col) makes four
// in a row in any direction.
func connectFourWins(board [][]string, row, col int, mark string) bool {
	for _, d := range c4Directions {
		count := 1
		for _, sign := range [2]int{1, -1} {
			r, c := row+d[0]*sign, col+d[1]*sign
			for r >= 0 && r < c4Rows && c >= 0 && c < c4Cols && board[r][c] == mark {
				count++
				r += d[0] * sign
				c += d[1] * sign
			}
		}
		if count >= 4 {
			return true
		}
	}
	return false
}

func analyzeGeneric(snap *Snapshot) *Analysis {
	a := &Analysis{GameType: snap.GameType, LegalMoves: []int{}, WinningMoves: []int{}, BlockingMoves: []int{}, Phase: PhaseMidgame}

	var st genericState
	if err := json.Unmarshal(snap.State, &st); err != nil {
		return a
	}
	if len(st.Moves) > 0 {
		a.LegalMoves = st.Moves
	} else if len(st.AvailableMoves) > 0 {
		a.LegalMoves = st.AvailableMoves
	}
	return a
}
