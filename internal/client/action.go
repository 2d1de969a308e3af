// Package client implements the action dispatcher for the match protocol:
// per-action request queues correlating responses in wire order, a push
// decoder for unsolicited state, and the connection read loop. Presentation
// is decoupled through the event bus; the dispatcher never renders.
package client

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/protocol"
)

// Classified request failures raised to the caller through the event bus
// or the read loop's exit error.
var (
	// ErrUnsupportedProtocol means the server's minimum protocol version
	// exceeds what this client speaks.
	ErrUnsupportedProtocol = errors.New("server protocol version unsupported")

	// ErrIdentityMismatch means a repeated HELLO was answered with a user
	// id other than the one sent. The server has confused two sessions and
	// nothing further on this connection can be trusted.
	ErrIdentityMismatch = errors.New("server reports a different bound user id")

	// ErrUnauthorizedJoin means the target game is full and this user
	// holds neither seat.
	ErrUnauthorizedJoin = errors.New("not a participant of that game")

	// ErrInvalidJoin means the join target does not name a game.
	ErrInvalidJoin = errors.New("no such game")
)

// action is a sent request awaiting its response. kind keys the pending
// queue, serialize produces the request bytes, responseLen reports how
// many payload bytes follow a preamble carrying the given status, and
// resolve consumes them. A non-nil resolve error is fatal to the
// connection; expected failures are reported through the bus instead.
type action interface {
	kind() protocol.Action
	serialize() []byte
	responseLen(status protocol.Status) int
	resolve(c *Client, status protocol.Status, payload []byte) error
}

// helloAction negotiates the protocol version and announces the user id.
type helloAction struct {
	maxProtocol uint16
	userID      uint32
}

func (helloAction) kind() protocol.Action { return protocol.ActionHello }

func (a helloAction) serialize() []byte {
	req := make([]byte, 1+protocol.HelloRequestSize)
	req[0] = byte(protocol.ActionHello)
	binary.BigEndian.PutUint16(req[1:3], a.maxProtocol)
	binary.BigEndian.PutUint32(req[3:7], a.userID)
	return req
}

func (helloAction) responseLen(status protocol.Status) int {
	switch status {
	case protocol.StatusOK, protocol.StatusUnsupported:
		return 2
	case protocol.StatusInvalid:
		return 4
	default:
		return 0
	}
}

func (a helloAction) resolve(c *Client, status protocol.Status, payload []byte) error {
	switch status {
	case protocol.StatusOK:
		version := binary.BigEndian.Uint16(payload)
		c.bind(a.userID, version)
		c.logger.Info().Uint16("version", version).Uint32("user", a.userID).Msg("session established")
		c.bus.Emit(events.Event{
			Type:    events.EventConnected,
			Source:  "client",
			Payload: events.ConnectedPayload{Protocol: version, UserID: int64(a.userID)},
		})
		return nil

	case protocol.StatusUnsupported:
		minimum := binary.BigEndian.Uint16(payload)
		return fmt.Errorf("%w: server requires at least version %d", ErrUnsupportedProtocol, minimum)

	case protocol.StatusInvalid:
		// The server already holds an identity for this connection. The
		// same id is a benign repeat; a different one is a server-side
		// session mixup.
		bound := binary.BigEndian.Uint32(payload)
		if bound == a.userID {
			c.logger.Debug().Uint32("user", bound).Msg("duplicate hello ignored")
			return nil
		}
		return fmt.Errorf("%w: sent %d, server has %d", ErrIdentityMismatch, a.userID, bound)

	default:
		return fmt.Errorf("hello rejected with status %s", status)
	}
}

// joinAction attaches this user to a game: a specific id, a fresh private
// game, or the matchmaking queue.
type joinAction struct {
	target uint32
}

func (joinAction) kind() protocol.Action { return protocol.ActionJoin }

func (a joinAction) serialize() []byte {
	req := make([]byte, 1+protocol.JoinRequestSize)
	req[0] = byte(protocol.ActionJoin)
	binary.BigEndian.PutUint32(req[1:5], a.target)
	return req
}

func (joinAction) responseLen(status protocol.Status) int {
	if status == protocol.StatusOK {
		return 4 + protocol.GameStateSize
	}
	return 0
}

func (a joinAction) resolve(c *Client, status protocol.Status, payload []byte) error {
	switch status {
	case protocol.StatusOK:
		gameID := binary.BigEndian.Uint32(payload[0:4])
		state := protocol.DecodeGameState(*(*[protocol.GameStateSize]byte)(payload[4:]))
		c.setGame(gameID, state)
		c.logger.Info().Uint32("game", gameID).Stringer("color", state.Color).Msg("joined game")
		c.bus.Emit(events.Event{
			Type:    events.EventJoinedGame,
			Source:  "client",
			Payload: events.JoinedPayload{GameID: gameID, State: state},
		})
		return nil

	case protocol.StatusUnauthorized:
		c.emitError(ErrUnauthorizedJoin)
		return nil

	case protocol.StatusInvalid:
		c.emitError(ErrInvalidJoin)
		return nil

	default:
		return fmt.Errorf("join rejected with status %s", status)
	}
}

// moveAction places a piece. Every resolution carries the authoritative
// state, so a rejected move still resynchronizes the local board.
type moveAction struct {
	x, y uint8
}

func (moveAction) kind() protocol.Action { return protocol.ActionMove }

func (a moveAction) serialize() []byte {
	return []byte{byte(protocol.ActionMove), protocol.PackMove(a.x, a.y)}
}

func (moveAction) responseLen(status protocol.Status) int {
	switch status {
	case protocol.StatusOK, protocol.StatusIllegal, protocol.StatusInvalid:
		return protocol.GameStateSize
	default:
		return 0
	}
}

func (a moveAction) resolve(c *Client, status protocol.Status, payload []byte) error {
	switch status {
	case protocol.StatusOK, protocol.StatusIllegal, protocol.StatusInvalid:
		state := protocol.DecodeGameState(*(*[protocol.GameStateSize]byte)(payload))
		c.setState(state)

		notice := ""
		switch status {
		case protocol.StatusIllegal:
			notice = fmt.Sprintf("illegal move (%d,%d)", a.x, a.y)
		case protocol.StatusInvalid:
			notice = "not your turn"
		}
		c.bus.Emit(events.Event{
			Type:    events.EventStateChanged,
			Source:  "client",
			Payload: events.StatePayload{State: state, Notice: notice},
		})
		return nil

	default:
		return fmt.Errorf("move rejected with status %s", status)
	}
}
