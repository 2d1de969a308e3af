package server

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ivans-csu/super-cow-powers/internal/game"
	"github.com/ivans-csu/super-cow-powers/internal/protocol"
)

// handler processes one action kind. payloadLen reports the request
// payload size for a negotiated protocol version; handle consumes the
// payload and returns the complete response bytes, preamble included.
// A non-nil error is an internal-consistency fault and terminates the
// process; peer mistakes are answered with a status code instead.
type handler interface {
	payloadLen(protocolVersion uint16) int
	handle(r *Registry, s *Session, payload []byte) ([]byte, error)
}

// handlers is the dispatch table keyed by action id.
var handlers = [protocol.ActionCount]handler{
	protocol.ActionHello: helloHandler{},
	protocol.ActionJoin:  joinHandler{},
	protocol.ActionMove:  moveHandler{},
}

// respond assembles a response message from its preamble and payload.
func respond(action protocol.Action, status protocol.Status, payload ...byte) []byte {
	preamble := protocol.ResponsePreamble{Action: action, Status: status}.Encode()
	return append(preamble[:], payload...)
}

type helloHandler struct{}

func (helloHandler) payloadLen(uint16) int { return protocol.HelloRequestSize }

// handle negotiates a protocol version and binds the peer's user id to
// the session. A repeated HELLO on a bound session is answered INVALID
// with the already-bound id so the peer can detect identity mixups.
func (helloHandler) handle(r *Registry, s *Session, payload []byte) ([]byte, error) {
	peerMax := binary.BigEndian.Uint16(payload[0:2])
	userID := int64(binary.BigEndian.Uint32(payload[2:6]))

	if bound := s.UserID(); bound != game.UnsetUser {
		var existing [4]byte
		binary.BigEndian.PutUint32(existing[:], uint32(bound))
		return respond(protocol.ActionHello, protocol.StatusInvalid, existing[:]...), nil
	}

	if peerMax < r.minVersion {
		var minimum [2]byte
		binary.BigEndian.PutUint16(minimum[:], r.minVersion)
		s.logger.Warn().
			Uint16("peer_max", peerMax).
			Uint16("server_min", r.minVersion).
			Msg("unsupported protocol version")
		return respond(protocol.ActionHello, protocol.StatusUnsupported, minimum[:]...), nil
	}

	version := r.maxVersion
	if peerMax < version {
		version = peerMax
	}
	s.bind(userID, version)
	s.logger.Info().Int64("user", userID).Uint16("version", version).Msg("session bound")

	var chosen [2]byte
	binary.BigEndian.PutUint16(chosen[:], version)
	return respond(protocol.ActionHello, protocol.StatusOK, chosen[:]...), nil
}

type joinHandler struct{}

func (joinHandler) payloadLen(uint16) int { return protocol.JoinRequestSize }

// handle resolves the join target through the registry, binds the session
// to the resulting game, and answers with the game id and the current
// state from the joiner's perspective. The opponent, if connected, is
// told via a CONNECT push.
func (joinHandler) handle(r *Registry, s *Session, payload []byte) ([]byte, error) {
	if s.UserID() == game.UnsetUser {
		return respond(protocol.ActionJoin, protocol.StatusUnauthorized), nil
	}

	target := binary.BigEndian.Uint32(payload[0:4])
	g, _, err := r.ResolveJoin(target, s)
	switch {
	case errors.Is(err, ErrNoSuchGame):
		return respond(protocol.ActionJoin, protocol.StatusInvalid), nil
	case errors.Is(err, ErrUnauthorizedJoin):
		return respond(protocol.ActionJoin, protocol.StatusUnauthorized), nil
	case err != nil:
		return nil, err
	}
	s.setGame(g)

	if _, opp := g.Opponent(s.UserID()); opp != nil {
		preamble := protocol.EncodePush(protocol.PushConnect)
		opp.Push(preamble[:])
	}

	var gameID [4]byte
	binary.BigEndian.PutUint32(gameID[:], g.ID())
	resp := respond(protocol.ActionJoin, protocol.StatusOK, gameID[:]...)
	return append(resp, g.StateFor(s.UserID())...), nil
}

type moveHandler struct{}

func (moveHandler) payloadLen(uint16) int { return protocol.MoveRequestSize }

// handle applies a move to the session's game. Rule violations are
// answered with the authoritative state so the peer can resynchronize;
// the opponent receives the post-move state as a GAMESTATE push.
func (moveHandler) handle(r *Registry, s *Session, payload []byte) ([]byte, error) {
	g := s.Game()
	if g == nil {
		return respond(protocol.ActionMove, protocol.StatusBadFormat), nil
	}

	x, y := protocol.UnpackMove(payload[0])
	err := g.Move(s.UserID(), x, y)

	status := protocol.StatusOK
	switch {
	case errors.Is(err, game.ErrIllegalMove):
		status = protocol.StatusIllegal
	case errors.Is(err, game.ErrNotYourTurn):
		status = protocol.StatusInvalid
	case errors.Is(err, game.ErrNotParticipant):
		return nil, fmt.Errorf("session %s bound to game %d it does not participate in: %w", s, g.ID(), err)
	}

	if status == protocol.StatusOK {
		if oppID, opp := g.Opponent(s.UserID()); opp != nil {
			preamble := protocol.EncodePush(protocol.PushGamestate)
			opp.Push(append(preamble[:], g.StateFor(oppID)...))
		}
		if g.Over() {
			r.emitGameOver(g)
		}
	}

	resp := respond(protocol.ActionMove, status)
	return append(resp, g.StateFor(s.UserID())...), nil
}
