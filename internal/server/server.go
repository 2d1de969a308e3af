package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivans-csu/super-cow-powers/internal/config"
	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/protocol"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

const (
	// maxChunkBytes caps how much input a single read pass accepts from one
	// connection, so one noisy peer cannot monopolize a cycle.
	maxChunkBytes = 1400

	// maxClogCount is the number of consecutive partial flushes tolerated
	// before a session is treated as abusive and disconnected.
	maxClogCount = 100

	// cloggedRetryInterval paces flush retries for sessions whose peer is
	// not draining its socket.
	cloggedRetryInterval = 10 * time.Millisecond

	keepalivePeriod = 30 * time.Second
)

// Server accepts match connections and drives them: one read goroutine per
// connection feeds the handler table, and a single flusher goroutine drains
// every dirty session's outbound buffer.
type Server struct {
	cfg      config.ServerConfig
	registry *Registry
	bus      *events.Bus
	logger   zerolog.Logger

	listener net.Listener
	nextSID  atomic.Uint64

	dirtyMu     sync.Mutex
	dirty       map[*Session]struct{}
	flushSignal chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a server for the given configuration.
func New(cfg config.ServerConfig, bus *events.Bus) *Server {
	return &Server{
		cfg:         cfg,
		registry:    NewRegistry(cfg.ProtocolMin, cfg.ProtocolMax, bus),
		bus:         bus,
		logger:      util.ComponentLogger("server"),
		dirty:       make(map[*Session]struct{}),
		flushSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Registry exposes the game and session registry for inspection surfaces.
func (srv *Server) Registry() *Registry { return srv.registry }

// ListenAndServe binds the listen socket and serves until the context is
// cancelled. It returns once every connection goroutine has exited.
func (srv *Server) ListenAndServe(ctx context.Context) error {
	lc := reuseAddrListenConfig()
	addr := fmt.Sprintf("%s:%d", srv.cfg.ListenAddr, srv.cfg.Port)

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv.listener = listener
	srv.logger.Info().Str("addr", addr).Msg("match server listening")

	srv.wg.Add(1)
	go srv.flushLoop()

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-srv.done:
				srv.wg.Wait()
				return nil
			default:
			}
			srv.logger.Error().Err(err).Msg("accept failed")
			continue
		}
		srv.wg.Add(1)
		go srv.handleConn(conn)
	}
}

// Shutdown closes the listener and every live session. Safe to call more
// than once.
func (srv *Server) Shutdown() {
	select {
	case <-srv.done:
		return
	default:
		close(srv.done)
	}
	if srv.listener != nil {
		srv.listener.Close()
	}
	srv.registry.closeAll()
}

// markDirty queues a session for the next flush cycle. Injected into every
// session at construction.
func (srv *Server) markDirty(s *Session) {
	srv.dirtyMu.Lock()
	srv.dirty[s] = struct{}{}
	srv.dirtyMu.Unlock()

	select {
	case srv.flushSignal <- struct{}{}:
	default:
	}
}

// handleConn owns a connection's read side from accept to disconnect.
func (srv *Server) handleConn(conn net.Conn) {
	defer srv.wg.Done()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(keepalivePeriod)
	}

	s := newSession(srv.nextSID.Add(1), conn, srv.markDirty)
	srv.registry.addSession(s)
	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("session connected")
	srv.bus.Emit(events.Event{
		Type:    events.EventSessionConnected,
		Source:  "server",
		Payload: events.SessionPayload{SessionID: s.ID(), UserID: s.UserID(), Remote: conn.RemoteAddr().String()},
	})

	defer srv.disconnect(s)

	s.inbuf = make([]byte, maxChunkBytes)
	for {
		n, err := conn.Read(s.inbuf)
		if n > 0 {
			if perr := srv.processChunk(s, s.inbuf[:n]); perr != nil {
				// Internal-consistency faults indicate corrupted
				// session/game binding, not peer misbehavior. Serving on
				// would spread the corruption.
				srv.logger.Fatal().Err(perr).Stringer("session", s).Msg("internal consistency fault")
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
	}
}

// processChunk parses one delivered chunk of client input. Messages are
// small and fixed-size, so a chunk normally holds a whole number of them;
// a truncated trailing message is answered BAD_FORMAT and its bytes
// dropped, leaving the next chunk to parse fresh. An unknown action id is
// answered UNSUPPORTED and the chunk remainder dropped, since message
// boundaries cannot be recovered past it.
func (srv *Server) processChunk(s *Session, data []byte) error {
	for len(data) > 0 {
		action := protocol.Action(data[0])
		if !action.Valid() {
			s.logger.Warn().Uint8("action", uint8(action)).Msg("unsupported action")
			s.Send(respond(action, protocol.StatusUnsupported))
			return nil
		}

		h := handlers[action]
		need := h.payloadLen(s.Protocol())
		if len(data) < 1+need {
			s.logger.Warn().
				Stringer("action", action).
				Int("got", len(data)-1).
				Int("want", need).
				Msg("short request payload")
			s.Send(respond(action, protocol.StatusBadFormat))
			return nil
		}

		resp, err := h.handle(srv.registry, s, data[1:1+need])
		if err != nil {
			return err
		}
		s.Send(resp)
		data = data[1+need:]
	}
	return nil
}

// disconnect tears a session down: registry removal, game detach, and a
// DCONNECT push to the opponent. The game itself is retained so either
// player may rejoin by id.
func (srv *Server) disconnect(s *Session) {
	srv.registry.removeSession(s.ID())
	s.Close()

	if g := s.Game(); g != nil {
		g.Detach(s.UserID())
		if _, opp := g.Opponent(s.UserID()); opp != nil {
			preamble := protocol.EncodePush(protocol.PushDisconnect)
			opp.Push(preamble[:])
		}
	}

	s.logger.Info().Stringer("session", s).Msg("session disconnected")
	srv.bus.Emit(events.Event{
		Type:    events.EventSessionDisconnected,
		Source:  "server",
		Payload: events.SessionPayload{SessionID: s.ID(), UserID: s.UserID()},
	})
}

// flushLoop is the single flusher goroutine: it drains dirty sessions as
// they are signalled, carries clogged ones over to the next cycle, and
// cuts off sessions that stay clogged past the limit.
func (srv *Server) flushLoop() {
	defer srv.wg.Done()

	clogged := make(map[*Session]struct{})
	for {
		if len(clogged) == 0 {
			select {
			case <-srv.done:
				return
			case <-srv.flushSignal:
			}
		} else {
			select {
			case <-srv.done:
				return
			case <-srv.flushSignal:
			case <-time.After(cloggedRetryInterval):
			}
		}

		srv.dirtyMu.Lock()
		batch := srv.dirty
		srv.dirty = make(map[*Session]struct{})
		srv.dirtyMu.Unlock()
		for s := range clogged {
			batch[s] = struct{}{}
		}
		clogged = make(map[*Session]struct{})

		for s := range batch {
			drained, err := s.Flush()
			switch {
			case err != nil:
				s.logger.Warn().Err(err).Msg("flush failed, disconnecting")
				s.Close()
			case !drained:
				s.clogCount++
				if s.clogCount > maxClogCount {
					s.logger.Warn().
						Int("pending", s.Pending()).
						Msg("session clogged past limit, disconnecting")
					s.Close()
					continue
				}
				clogged[s] = struct{}{}
			default:
				s.clogCount = 0
			}
		}
	}
}
