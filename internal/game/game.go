// Package game implements the Reversi rules engine: move legality and
// capture computation, turn advancement with forced skips, end-of-game
// scoring, and per-player packed state snapshots.
package game

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ivans-csu/super-cow-powers/internal/protocol"
)

// Expected rule failures. These are answered to the peer with a status
// code and never terminate the process.
var (
	// ErrIllegalMove covers out-of-range targets, occupied cells, moves
	// that capture nothing, and moves into a finished game.
	ErrIllegalMove = errors.New("illegal move")

	// ErrNotYourTurn means the turn parity does not match the player.
	ErrNotYourTurn = errors.New("not your turn")

	// ErrNotParticipant means the player is neither host nor guest. On the
	// move path this is an internal-consistency fault in session/game
	// binding, not peer misbehavior, and the caller must treat it as fatal.
	ErrNotParticipant = errors.New("player is not a participant of this game")
)

// UnsetUser is the sentinel for a not-yet-assigned user id.
const UnsetUser int64 = -1

// Conn is the narrow connection capability a game holds per player: the
// ability to enqueue an unsolicited push. Connections are nullable
// back-references; a player may be disconnected while the game persists.
type Conn interface {
	Push(msg []byte)
}

// Game is a single two-player match. The host plays white and moves on
// even turns; the guest plays black and moves on odd turns, so black opens
// the game as in standard Reversi. All methods are safe for concurrent use.
type Game struct {
	mu sync.Mutex

	id      uint32
	hostID  int64
	guestID int64

	hostConn  Conn
	guestConn Conn

	turn  int
	board protocol.Board
	over  *[2]int // [black, white] once finished, nil while in progress
}

// New creates a game hosted by the given user, in the opening position
// with the guest seat unassigned.
func New(id uint32, hostID int64, hostConn Conn) *Game {
	return &Game{
		id:       id,
		hostID:   hostID,
		guestID:  UnsetUser,
		hostConn: hostConn,
		turn:     1,
		board:    protocol.NewBoard(),
	}
}

// ID returns the game's registry id.
func (g *Game) ID() uint32 { return g.id }

// String implements fmt.Stringer for log output.
func (g *Game) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("<id:%d,turn:%d,host:%d,guest:%d>", g.id, g.turn, g.hostID, g.guestID)
}

// Join attaches a user's connection to the game. A first joiner other than
// the host takes the guest seat and starts the match; a participant
// reattaches their connection (rejoin after disconnect). started reports
// whether this join filled the guest seat. Returns ErrNotParticipant when
// the game is full and the user holds neither seat.
func (g *Game) Join(userID int64, conn Conn) (started bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case userID == g.hostID:
		g.hostConn = conn
	case g.guestID == UnsetUser:
		g.guestID = userID
		g.guestConn = conn
		started = true
	case userID == g.guestID:
		g.guestConn = conn
	default:
		return false, ErrNotParticipant
	}
	return started, nil
}

// Detach clears the user's connection back-reference. The seat assignment
// is kept so the user may rejoin later.
func (g *Game) Detach(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch userID {
	case g.hostID:
		g.hostConn = nil
	case g.guestID:
		g.guestConn = nil
	}
}

// Opponent returns the other participant's user id and connection. The
// connection is nil while the opponent is disconnected; the id is
// UnsetUser while the guest seat is empty.
func (g *Game) Opponent(userID int64) (int64, Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if userID == g.guestID {
		return g.hostID, g.hostConn
	}
	return g.guestID, g.guestConn
}

// Move places a piece for the player at column x, row y, applying all
// captures and advancing the turn. A mover left without a legal placement
// is skipped; if neither side can place, the game ends.
func (g *Game) Move(userID int64, x, y uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if x >= protocol.BoardSize || y >= protocol.BoardSize {
		return ErrIllegalMove
	}

	var color protocol.Color
	switch userID {
	case g.guestID:
		if g.turn%2 == 0 {
			return ErrNotYourTurn
		}
		color = protocol.Black
	case g.hostID:
		if g.turn%2 == 1 {
			return ErrNotYourTurn
		}
		color = protocol.White
	default:
		return ErrNotParticipant
	}

	if g.over != nil {
		return ErrIllegalMove
	}
	if g.board[y][x] != protocol.Empty {
		return ErrIllegalMove
	}

	flips := captures(&g.board, int(y), int(x), color)
	if len(flips) == 0 {
		return ErrIllegalMove
	}

	g.board[y][x] = color
	for _, cell := range flips {
		g.board[cell[0]][cell[1]] = color
	}
	g.turn++

	// Skip a mover with no legal placement; end when both are stuck.
	next := colorToMove(g.turn)
	if !hasLegalMove(&g.board, next) {
		if !hasLegalMove(&g.board, next.Opponent()) {
			g.end()
		} else {
			g.turn++
		}
	}
	return nil
}

// end tallies the board and freezes the final score.
func (g *Game) end() {
	black, white := g.board.Count()
	g.over = &[2]int{black, white}
}

// Over reports whether the game has finished.
func (g *Game) Over() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.over != nil
}

// Score returns the current black/white tallies and whether they are final.
func (g *Game) Score() (black, white int, final bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.over != nil {
		return g.over[0], g.over[1], true
	}
	black, white = g.board.Count()
	return black, white, false
}

// Turn returns the current turn number.
func (g *Game) Turn() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turn
}

// StateFor returns the packed game state from the player's perspective:
// the fixed 17-byte block, followed by a WIN/LOSE/TIE push preamble once
// the game is over.
func (g *Game) StateFor(userID int64) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()

	color := protocol.White
	canMove := g.turn%2 == 0
	if userID == g.guestID {
		color = protocol.Black
		canMove = g.turn%2 == 1
	}
	if g.over != nil {
		canMove = false
	}

	gs := protocol.GameState{
		Color:   color,
		CanMove: canMove,
		Turn:    uint8(g.turn),
		Board:   g.board,
	}
	raw := gs.Encode()

	if g.over == nil {
		return raw[:]
	}

	mine, theirs := g.over[1], g.over[0]
	if color == protocol.Black {
		mine, theirs = g.over[0], g.over[1]
	}
	result := protocol.PushTie
	switch {
	case mine > theirs:
		result = protocol.PushWin
	case mine < theirs:
		result = protocol.PushLose
	}
	preamble := protocol.EncodePush(result)
	return append(raw[:], preamble[:]...)
}

// Summary is a point-in-time description of a game for inspection surfaces.
type Summary struct {
	ID          uint32 `json:"id"`
	HostID      int64  `json:"host_id"`
	GuestID     int64  `json:"guest_id"`
	Turn        int    `json:"turn"`
	Black       int    `json:"black_score"`
	White       int    `json:"white_score"`
	Over        bool   `json:"over"`
	HostOnline  bool   `json:"host_online"`
	GuestOnline bool   `json:"guest_online"`
}

// Snapshot returns a consistent summary of the game.
func (g *Game) Snapshot() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	black, white := g.board.Count()
	over := g.over != nil
	if over {
		black, white = g.over[0], g.over[1]
	}
	return Summary{
		ID:          g.id,
		HostID:      g.hostID,
		GuestID:     g.guestID,
		Turn:        g.turn,
		Black:       black,
		White:       white,
		Over:        over,
		HostOnline:  g.hostConn != nil,
		GuestOnline: g.guestConn != nil,
	}
}

// directions enumerates the 8 capture scan directions as row/col deltas.
var directions = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// captures returns the cells flipped by placing color at (row, col):
// in each direction, a contiguous run of opposing cells terminated by a
// same-color cell before the board edge.
func captures(b *protocol.Board, row, col int, color protocol.Color) [][2]int {
	var flips [][2]int
	opp := color.Opponent()

	for _, d := range directions {
		var run [][2]int
		r, c := row+d[0], col+d[1]
		for r >= 0 && r < protocol.BoardSize && c >= 0 && c < protocol.BoardSize && b[r][c] == opp {
			run = append(run, [2]int{r, c})
			r += d[0]
			c += d[1]
		}
		if len(run) == 0 {
			continue
		}
		if r >= 0 && r < protocol.BoardSize && c >= 0 && c < protocol.BoardSize && b[r][c] == color {
			flips = append(flips, run...)
		}
	}
	return flips
}

// hasLegalMove reports whether color can capture from any empty cell.
func hasLegalMove(b *protocol.Board, color protocol.Color) bool {
	for row := 0; row < protocol.BoardSize; row++ {
		for col := 0; col < protocol.BoardSize; col++ {
			if b[row][col] != protocol.Empty {
				continue
			}
			if len(captures(b, row, col, color)) > 0 {
				return true
			}
		}
	}
	return false
}

// colorToMove maps a turn number to the color on move: odd turns belong
// to black (the guest), even turns to white (the host).
func colorToMove(turn int) protocol.Color {
	if turn%2 == 1 {
		return protocol.Black
	}
	return protocol.White
}
