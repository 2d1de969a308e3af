package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivans-csu/super-cow-powers/internal/config"
	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/protocol"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

const dialTimeout = 10 * time.Second

// Client is one connection to the match server. Requests are enqueued per
// action kind and resolved strictly in wire order, matching the server's
// guarantee that responses come back in the order requests were received.
// State changes surface on the event bus; the client holds only the last
// authoritative snapshot.
type Client struct {
	mu sync.Mutex

	conn   net.Conn
	reader *bufio.Reader
	bus    *events.Bus
	logger zerolog.Logger

	// pending holds not-yet-resolved requests, one FIFO queue per action
	// kind. Guarded by mu; resolved only on the read goroutine.
	pending [protocol.ActionCount][]action

	userID   uint32
	protocol uint16
	gameID   uint32
	state    protocol.GameState
	inGame   bool

	done chan struct{}
	err  error
}

// Dial connects to the match server. A zero configured user id is
// replaced by the connection's local ephemeral port, which is unique per
// live connection and stable for its lifetime.
func Dial(cfg config.ClientConfig, bus *events.Bus) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
	}

	userID := uint32(cfg.UserID)
	if userID == 0 {
		if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
			userID = uint32(tcpAddr.Port)
		}
	}

	c := &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		bus:    bus,
		logger: util.ComponentLogger("client"),
		userID: userID,
		done:   make(chan struct{}),
	}
	c.logger.Info().Str("addr", addr).Uint32("user", userID).Msg("connected to match server")

	// HELLO goes out before Dial returns, so no request the caller issues
	// can overtake it on the wire.
	if err := c.send(helloAction{maxProtocol: cfg.ProtocolMax, userID: userID}); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// readLoop decodes preambles until the connection dies, routing responses
// to their pending request and pushes to the push handler.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var preamble [protocol.PreambleSize]byte
		if _, err := io.ReadFull(c.reader, preamble[:]); err != nil {
			c.fail(fmt.Errorf("connection lost: %w", err))
			return
		}

		var err error
		if protocol.IsPush(preamble[0]) {
			err = c.handlePush(preamble)
		} else {
			err = c.handleResponse(preamble)
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

// handleResponse correlates a response preamble with the oldest pending
// request of its action kind, reads exactly the payload that request
// expects for the declared status, and resolves it.
func (c *Client) handleResponse(raw [protocol.PreambleSize]byte) error {
	pre := protocol.DecodeResponsePreamble(raw)
	if !pre.Status.Valid() {
		return fmt.Errorf("malformed response: status byte %#x", raw[0])
	}
	if !pre.Action.Valid() {
		return fmt.Errorf("malformed response: action byte %#x", raw[1])
	}

	c.mu.Lock()
	queue := c.pending[pre.Action]
	if len(queue) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("unsolicited %s response", pre.Action)
	}
	act := queue[0]
	c.pending[pre.Action] = queue[1:]
	c.mu.Unlock()

	payload := make([]byte, act.responseLen(pre.Status))
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return fmt.Errorf("truncated %s response: %w", pre.Action, err)
	}

	c.logger.Debug().
		Stringer("action", pre.Action).
		Stringer("status", pre.Status).
		Msg("response resolved")
	return act.resolve(c, pre.Status, payload)
}

// handlePush applies an unsolicited server message. Pushes never consume
// a pending request slot.
func (c *Client) handlePush(raw [protocol.PreambleSize]byte) error {
	push, ok := protocol.DecodePush(raw)
	if !ok {
		return fmt.Errorf("malformed push preamble %#x", raw)
	}

	switch push {
	case protocol.PushGamestate:
		var block [protocol.GameStateSize]byte
		if _, err := io.ReadFull(c.reader, block[:]); err != nil {
			return fmt.Errorf("truncated game-state push: %w", err)
		}
		state := protocol.DecodeGameState(block)
		c.setState(state)
		c.bus.Emit(events.Event{
			Type:    events.EventStateChanged,
			Source:  "client",
			Payload: events.StatePayload{State: state},
		})

	case protocol.PushConnect:
		c.logger.Info().Msg("opponent connected")
		c.bus.Emit(events.Event{Type: events.EventOpponentConnected, Source: "client"})

	case protocol.PushDisconnect:
		c.logger.Info().Msg("opponent disconnected")
		c.bus.Emit(events.Event{Type: events.EventOpponentAway, Source: "client"})

	case protocol.PushWin, protocol.PushLose, protocol.PushTie:
		c.logger.Info().Stringer("result", push).Msg("match over")
		c.bus.Emit(events.Event{
			Type:    events.EventMatchResult,
			Source:  "client",
			Payload: events.ResultPayload{Result: push},
		})

	default:
		return fmt.Errorf("unknown push type %d", push)
	}
	return nil
}

// send enqueues a request and writes it to the socket. The queue entry
// must be visible before the response can arrive, so enqueue precedes the
// write.
func (c *Client) send(a action) error {
	c.mu.Lock()
	c.pending[a.kind()] = append(c.pending[a.kind()], a)
	c.mu.Unlock()

	if _, err := c.conn.Write(a.serialize()); err != nil {
		return fmt.Errorf("failed to send %s: %w", a.kind(), err)
	}
	return nil
}

// Join requests attachment to a game: an explicit id, protocol.JoinPrivate,
// or protocol.JoinMatchmaking. The outcome arrives as a joined-game or
// error event.
func (c *Client) Join(target uint32) error {
	return c.send(joinAction{target: target})
}

// Move requests placing a piece at column x, row y. The refreshed state
// arrives as a state-changed event whether or not the move was accepted.
func (c *Client) Move(x, y uint8) error {
	return c.send(moveAction{x: x, y: y})
}

// bind records the identity negotiated by HELLO.
func (c *Client) bind(userID uint32, version uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.protocol = version
}

// setGame records a successful join.
func (c *Client) setGame(gameID uint32, state protocol.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gameID = gameID
	c.state = state
	c.inGame = true
}

// setState records a refreshed authoritative snapshot.
func (c *Client) setState(state protocol.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// UserID returns the user id this client presents to the server.
func (c *Client) UserID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Game returns the joined game id and last known state. ok is false
// before the first successful join.
func (c *Client) Game() (gameID uint32, state protocol.GameState, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID, c.state, c.inGame
}

// fail records the terminal error, reports it, and tears the connection
// down. Transport and protocol faults on a client are not recoverable.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("client connection failed")
	c.emitError(err)
	c.conn.Close()
}

func (c *Client) emitError(err error) {
	c.bus.Emit(events.Event{
		Type:    events.EventError,
		Source:  "client",
		Payload: events.ErrorPayload{Message: err.Error()},
	})
}

// Close shuts the connection down and waits for the read loop to exit.
func (c *Client) Close() error {
	c.conn.Close()
	<-c.done
	return nil
}

// Done is closed when the read loop has exited; Err reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the terminal connection error, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
