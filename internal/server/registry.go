package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/game"
	"github.com/ivans-csu/super-cow-powers/internal/protocol"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

// Expected join failures, answered to the peer with a status code.
var (
	// ErrUnauthorizedJoin means the target game is full and the requester
	// holds neither seat.
	ErrUnauthorizedJoin = errors.New("not a participant of this game")

	// ErrNoSuchGame means the join target is outside the game list.
	ErrNoSuchGame = errors.New("no such game")
)

// Registry owns the set of active games, the FIFO queue of games awaiting
// a second player, and the session table. Games are never removed: a
// finished or abandoned game stays addressable so a participant can
// reconnect by id for the life of the process.
type Registry struct {
	mu sync.Mutex

	games    []*game.Game
	queue    []*game.Game
	sessions map[uint64]*Session

	minVersion uint16
	maxVersion uint16

	bus    *events.Bus
	logger zerolog.Logger
}

// NewRegistry creates an empty registry negotiating the given protocol
// version range.
func NewRegistry(minVersion, maxVersion uint16, bus *events.Bus) *Registry {
	return &Registry{
		sessions:   make(map[uint64]*Session),
		minVersion: minVersion,
		maxVersion: maxVersion,
		bus:        bus,
		logger:     util.ComponentLogger("registry"),
	}
}

// addSession registers a freshly accepted session.
func (r *Registry) addSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// removeSession drops a session from the table.
func (r *Registry) removeSession(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// newGameLocked creates and registers a game hosted by the session's
// user. Caller holds r.mu.
func (r *Registry) newGameLocked(s *Session) *game.Game {
	id := protocol.FirstGameID + uint32(len(r.games))
	g := game.New(id, s.UserID(), s)
	r.games = append(r.games, g)

	r.logger.Info().Uint32("game", id).Int64("host", s.UserID()).Msg("new game created")
	r.bus.Emit(events.Event{
		Type:    events.EventGameCreated,
		Source:  "registry",
		Payload: events.GamePayload{GameID: id, HostID: s.UserID(), GuestID: game.UnsetUser},
	})
	return g
}

// ResolveJoin maps a JOIN target to a game and attaches the session's
// user to it: target 1 creates a private game, target 0 runs matchmaking,
// anything else addresses an existing game by id. started reports whether
// this join filled the guest seat.
func (r *Registry) ResolveJoin(target uint32, s *Session) (g *game.Game, started bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch target {
	case protocol.JoinPrivate:
		return r.newGameLocked(s), false, nil

	case protocol.JoinMatchmaking:
		if len(r.queue) > 0 {
			g = r.queue[0]
			r.queue = r.queue[1:]
			started, err = g.Join(s.UserID(), s)
			if err != nil {
				// The queue only holds games with an open guest seat; a
				// rejected join here is a registry bug, not peer input.
				return nil, false, fmt.Errorf("matchmaking yielded unauthorized join: game %d, user %d", g.ID(), s.UserID())
			}
			if started {
				r.emitStartedLocked(g)
			}
			return g, started, nil
		}
		g = r.newGameLocked(s)
		r.queue = append(r.queue, g)
		return g, false, nil

	default:
		idx := int(target) - int(protocol.FirstGameID)
		if idx < 0 || idx >= len(r.games) {
			return nil, false, ErrNoSuchGame
		}
		g = r.games[idx]
		started, err = g.Join(s.UserID(), s)
		if err != nil {
			return nil, false, ErrUnauthorizedJoin
		}
		if started {
			// Direct joins may fill the seat of a game still queued for
			// matchmaking; it must leave the queue with its seat taken.
			r.dequeueLocked(g)
			r.emitStartedLocked(g)
		}
		return g, started, nil
	}
}

// dequeueLocked removes a game from the matchmaking queue if present.
func (r *Registry) dequeueLocked(g *game.Game) {
	for i, queued := range r.queue {
		if queued == g {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

func (r *Registry) emitStartedLocked(g *game.Game) {
	snap := g.Snapshot()
	r.logger.Info().Uint32("game", snap.ID).Int64("guest", snap.GuestID).Msg("game started")
	r.bus.Emit(events.Event{
		Type:    events.EventGameStarted,
		Source:  "registry",
		Payload: events.GamePayload{GameID: snap.ID, HostID: snap.HostID, GuestID: snap.GuestID},
	})
}

// emitGameOver publishes the final score of a finished game.
func (r *Registry) emitGameOver(g *game.Game) {
	snap := g.Snapshot()
	r.logger.Info().
		Uint32("game", snap.ID).
		Int("black", snap.Black).
		Int("white", snap.White).
		Msg("game over")
	r.bus.Emit(events.Event{
		Type:   events.EventGameOver,
		Source: "registry",
		Payload: events.GameOverPayload{
			GameID:  snap.ID,
			HostID:  snap.HostID,
			GuestID: snap.GuestID,
			Black:   snap.Black,
			White:   snap.White,
		},
	})
}

// Games returns summaries of every registered game.
func (r *Registry) Games() []game.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]game.Summary, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g.Snapshot())
	}
	return out
}

// GameByID returns a summary of a single game.
func (r *Registry) GameByID(id uint32) (game.Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := int(id) - int(protocol.FirstGameID)
	if idx < 0 || idx >= len(r.games) {
		return game.Summary{}, false
	}
	return r.games[idx].Snapshot(), true
}

// Sessions returns summaries of every connected session.
func (r *Registry) Sessions() []SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Counts returns the number of connected sessions, registered games, and
// games awaiting a guest.
func (r *Registry) Counts() (sessions, games, queued int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions), len(r.games), len(r.queue)
}

// closeAll shuts down every session, used on server shutdown.
func (r *Registry) closeAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
