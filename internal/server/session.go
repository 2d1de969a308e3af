// Package server implements the match server: per-connection sessions,
// the game registry with matchmaking, the action handler table, and the
// connection multiplexer with write backpressure.
package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivans-csu/super-cow-powers/internal/game"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

// flushWriteDeadline bounds a single flush attempt so a stalled peer can
// never block the flusher; whatever the kernel refuses stays buffered for
// the next cycle.
const flushWriteDeadline = 5 * time.Millisecond

// Session is the per-connection state: the negotiated protocol version,
// the bound user id, the associated game, and the outbound byte buffer.
// Only the connection's read goroutine mutates the inbound buffer; the
// outbound buffer is shared between handlers and the flusher under the
// session mutex.
type Session struct {
	mu sync.Mutex

	id     uint64
	conn   net.Conn
	logger zerolog.Logger

	userID   int64
	protocol uint16
	game     *game.Game

	inbuf  []byte
	outbuf []byte
	closed bool

	// clogCount tracks consecutive flush attempts that failed to drain
	// the buffer. Touched only by the flusher goroutine.
	clogCount int

	// markDirty notifies the flusher that this session has pending
	// output. Injected by the server at construction.
	markDirty func(*Session)
}

func newSession(id uint64, conn net.Conn, markDirty func(*Session)) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		logger:    util.ComponentLogger("session").With().Uint64("sid", id).Logger(),
		userID:    game.UnsetUser,
		markDirty: markDirty,
	}
}

// String implements fmt.Stringer for log output.
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := "DEAD"
	if s.conn != nil {
		addr = s.conn.RemoteAddr().String()
	}
	return fmt.Sprintf("<sid:%d addr:%s user:%d prtcl:%d>", s.id, addr, s.userID, s.protocol)
}

// ID returns the session's registry id.
func (s *Session) ID() uint64 { return s.id }

// UserID returns the bound user id, or game.UnsetUser before HELLO.
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Protocol returns the negotiated protocol version.
func (s *Session) Protocol() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocol
}

// bind records the identity negotiated by a successful HELLO.
func (s *Session) bind(userID int64, protocolVersion uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.protocol = protocolVersion
}

// Game returns the game this session is bound to, if any.
func (s *Session) Game() *game.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game
}

// setGame binds the session to a game after a successful join.
func (s *Session) setGame(g *game.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.game = g
}

// Send appends a message to the outbound buffer and marks the session
// dirty for the flusher. This is the only sanctioned way to mutate the
// buffer outside the flush contract.
func (s *Session) Send(msg []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.outbuf = append(s.outbuf, msg...)
	s.mu.Unlock()

	s.markDirty(s)
}

// Push implements game.Conn so a game can hand this session unsolicited
// messages for its player.
func (s *Session) Push(msg []byte) { s.Send(msg) }

// Flush attempts to drain the outbound buffer with a short write
// deadline. drained is false when the peer accepted only part of the
// buffer (or none); err is set only for fatal transport errors.
func (s *Session) Flush() (drained bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true, nil
	}
	if len(s.outbuf) == 0 {
		return true, nil
	}

	s.conn.SetWriteDeadline(time.Now().Add(flushWriteDeadline))
	n, err := s.conn.Write(s.outbuf)
	s.outbuf = s.outbuf[n:]

	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return false, nil
		}
		return false, err
	}
	return len(s.outbuf) == 0, nil
}

// Pending returns the number of buffered outbound bytes.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbuf)
}

// Close marks the session dead and closes its socket. The read goroutine
// observes the closed socket and runs the disconnect path.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Closed reports whether the session has been shut down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SessionSummary is a point-in-time description of a session for
// inspection surfaces.
type SessionSummary struct {
	ID       uint64 `json:"id"`
	Remote   string `json:"remote"`
	UserID   int64  `json:"user_id"`
	Protocol uint16 `json:"protocol"`
	GameID   uint32 `json:"game_id"` // 0 when not in a game; real ids start at 2
	Pending  int    `json:"pending_bytes"`
}

// Snapshot returns a consistent summary of the session.
func (s *Session) Snapshot() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := SessionSummary{
		ID:       s.id,
		UserID:   s.userID,
		Protocol: s.protocol,
		Pending:  len(s.outbuf),
	}
	if s.conn != nil {
		sum.Remote = s.conn.RemoteAddr().String()
	}
	if s.game != nil {
		sum.GameID = s.game.ID()
	}
	return sum
}
