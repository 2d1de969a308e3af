// Package events defines the tagged event values exchanged between the
// protocol core and its consumers (terminal UI, match history, telemetry),
// and the bus that carries them. The core only ever emits; presentation
// and recording layers subscribe and never call back into the core.
package events

import "github.com/ivans-csu/super-cow-powers/internal/protocol"

// EventType tags an event value.
type EventType string

const (
	// Server-side lifecycle events
	EventSessionConnected    EventType = "session_connected"
	EventSessionDisconnected EventType = "session_disconnected"
	EventGameCreated         EventType = "game_created"
	EventGameStarted         EventType = "game_started"
	EventGameOver            EventType = "game_over"

	// Client-side events consumed by the terminal UI
	EventConnected          EventType = "connected"
	EventJoinedGame         EventType = "joined_game"
	EventStateChanged       EventType = "state_changed"
	EventMatchResult        EventType = "match_result"
	EventOpponentConnected  EventType = "opponent_connected"
	EventOpponentAway       EventType = "opponent_away"
	EventError              EventType = "error"
)

// Event is a single tagged event value.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionPayload describes a server session coming or going.
type SessionPayload struct {
	SessionID uint64
	UserID    int64
	Remote    string
}

// GamePayload describes a game lifecycle change on the server.
type GamePayload struct {
	GameID  uint32
	HostID  int64
	GuestID int64
}

// GameOverPayload carries the final score of a finished match.
type GameOverPayload struct {
	GameID  uint32
	HostID  int64
	GuestID int64
	Black   int
	White   int
}

// ConnectedPayload reports an established client session.
type ConnectedPayload struct {
	Protocol uint16
	UserID   int64
}

// JoinedPayload reports a successful join with the initial state.
type JoinedPayload struct {
	GameID uint32
	State  protocol.GameState
	Notice string
}

// StatePayload carries a refreshed game state, with an optional notice
// explaining a rejected move.
type StatePayload struct {
	State  protocol.GameState
	Notice string
}

// ResultPayload carries the client's view of a finished match.
type ResultPayload struct {
	Result protocol.Push // PushWin, PushLose or PushTie
}

// ErrorPayload carries a non-fatal error for display.
type ErrorPayload struct {
	Message string
}
