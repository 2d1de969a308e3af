package client

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/protocol"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

const testUserID uint32 = 0x1134

// sink collects every client-side event in emission order.
type sink struct {
	ch chan events.Event
}

func newSink(bus *events.Bus) *sink {
	s := &sink{ch: make(chan events.Event, 64)}
	for _, et := range []events.EventType{
		events.EventConnected,
		events.EventJoinedGame,
		events.EventStateChanged,
		events.EventMatchResult,
		events.EventOpponentConnected,
		events.EventOpponentAway,
		events.EventError,
	} {
		bus.Subscribe(et, "test-sink", func(e events.Event) { s.ch <- e })
	}
	return s
}

func (s *sink) next(t *testing.T, want events.EventType) events.Event {
	t.Helper()
	select {
	case e := <-s.ch:
		require.Equal(t, want, e.Type)
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", want)
		return events.Event{}
	}
}

// newTestClient wires a client to a loopback TCP connection and returns
// the server end. The client's opening HELLO is left on the wire for the
// test's server script to consume.
func newTestClient(t *testing.T) (*Client, net.Conn, *sink) {
	t.Helper()

	bus := events.NewBus()
	t.Cleanup(bus.Stop)
	snk := newSink(bus)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, aerr := ln.Accept()
		if aerr == nil {
			accepted <- conn
		}
	}()

	clientEnd, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	var serverEnd net.Conn
	select {
	case serverEnd = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for loopback accept")
	}
	t.Cleanup(func() { serverEnd.Close() })

	c := &Client{
		conn:   clientEnd,
		reader: bufio.NewReader(clientEnd),
		bus:    bus,
		logger: util.ComponentLogger("client"),
		userID: testUserID,
		done:   make(chan struct{}),
	}
	require.NoError(t, c.send(helloAction{maxProtocol: 0, userID: testUserID}))
	go c.readLoop()
	t.Cleanup(func() { c.Close() })

	return c, serverEnd, snk
}

// expectRequest reads and returns one request of the given action kind
// from the server end of the connection.
func expectRequest(t *testing.T, conn net.Conn, action protocol.Action, payloadLen int) []byte {
	t.Helper()
	buf := make([]byte, 1+payloadLen)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, byte(action), buf[0])
	return buf[1:]
}

func writeResponse(t *testing.T, conn net.Conn, action protocol.Action, status protocol.Status, payload ...byte) {
	t.Helper()
	preamble := protocol.ResponsePreamble{Action: action, Status: status}.Encode()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write(append(preamble[:], payload...))
	require.NoError(t, err)
}

func writePush(t *testing.T, conn net.Conn, push protocol.Push, payload ...byte) {
	t.Helper()
	preamble := protocol.EncodePush(push)
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write(append(preamble[:], payload...))
	require.NoError(t, err)
}

// handshake consumes the opening HELLO and answers it OK at version 0.
func handshake(t *testing.T, conn net.Conn, snk *sink) {
	t.Helper()
	payload := expectRequest(t, conn, protocol.ActionHello, protocol.HelloRequestSize)
	require.Equal(t, testUserID, binary.BigEndian.Uint32(payload[2:6]))
	writeResponse(t, conn, protocol.ActionHello, protocol.StatusOK, 0, 0)
	snk.next(t, events.EventConnected)
}

func sampleState(turn uint8, canMove bool) protocol.GameState {
	return protocol.GameState{
		Color:   protocol.Black,
		CanMove: canMove,
		Turn:    turn,
		Board:   protocol.NewBoard(),
	}
}

func TestHelloHandshake(t *testing.T) {
	c, conn, snk := newTestClient(t)

	payload := expectRequest(t, conn, protocol.ActionHello, protocol.HelloRequestSize)
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(payload[0:2]))
	assert.Equal(t, testUserID, binary.BigEndian.Uint32(payload[2:6]))

	writeResponse(t, conn, protocol.ActionHello, protocol.StatusOK, 0, 0)

	e := snk.next(t, events.EventConnected)
	p := e.Payload.(events.ConnectedPayload)
	assert.Equal(t, int64(testUserID), p.UserID)
	assert.Equal(t, uint16(0), p.Protocol)
	assert.Equal(t, testUserID, c.UserID())
}

func TestHelloPrecedesImmediateJoin(t *testing.T) {
	// The handshake is written before the constructor returns, so a join
	// issued right away cannot overtake it on the wire.
	c, conn, snk := newTestClient(t)
	require.NoError(t, c.Join(protocol.JoinMatchmaking))

	expectRequest(t, conn, protocol.ActionHello, protocol.HelloRequestSize)
	payload := expectRequest(t, conn, protocol.ActionJoin, protocol.JoinRequestSize)
	assert.Equal(t, protocol.JoinMatchmaking, binary.BigEndian.Uint32(payload))

	writeResponse(t, conn, protocol.ActionHello, protocol.StatusOK, 0, 0)
	state := sampleState(1, true)
	raw := state.Encode()
	resp := append([]byte{0, 0, 0, 2}, raw[:]...)
	writeResponse(t, conn, protocol.ActionJoin, protocol.StatusOK, resp...)

	snk.next(t, events.EventConnected)
	snk.next(t, events.EventJoinedGame)
	require.NoError(t, c.Err())
}

func TestHelloUnsupportedIsFatal(t *testing.T) {
	c, conn, snk := newTestClient(t)

	expectRequest(t, conn, protocol.ActionHello, protocol.HelloRequestSize)
	var minimum [2]byte
	binary.BigEndian.PutUint16(minimum[:], 9)
	writeResponse(t, conn, protocol.ActionHello, protocol.StatusUnsupported, minimum[:]...)

	snk.next(t, events.EventError)
	<-c.Done()
	require.ErrorIs(t, c.Err(), ErrUnsupportedProtocol)
}

func TestDuplicateHello(t *testing.T) {
	t.Run("same user id is benign", func(t *testing.T) {
		c, conn, snk := newTestClient(t)
		handshake(t, conn, snk)

		require.NoError(t, c.send(helloAction{maxProtocol: 0, userID: testUserID}))
		expectRequest(t, conn, protocol.ActionHello, protocol.HelloRequestSize)
		var bound [4]byte
		binary.BigEndian.PutUint32(bound[:], testUserID)
		writeResponse(t, conn, protocol.ActionHello, protocol.StatusInvalid, bound[:]...)

		// The connection must survive; prove it with a round trip.
		require.NoError(t, c.Join(protocol.JoinMatchmaking))
		expectRequest(t, conn, protocol.ActionJoin, protocol.JoinRequestSize)
		state := sampleState(1, true)
		raw := state.Encode()
		resp := append([]byte{0, 0, 0, 2}, raw[:]...)
		writeResponse(t, conn, protocol.ActionJoin, protocol.StatusOK, resp...)
		snk.next(t, events.EventJoinedGame)
		require.NoError(t, c.Err())
	})

	t.Run("different user id is fatal", func(t *testing.T) {
		c, conn, snk := newTestClient(t)
		handshake(t, conn, snk)

		require.NoError(t, c.send(helloAction{maxProtocol: 0, userID: testUserID}))
		expectRequest(t, conn, protocol.ActionHello, protocol.HelloRequestSize)
		var bound [4]byte
		binary.BigEndian.PutUint32(bound[:], 0xBEEF)
		writeResponse(t, conn, protocol.ActionHello, protocol.StatusInvalid, bound[:]...)

		snk.next(t, events.EventError)
		<-c.Done()
		require.ErrorIs(t, c.Err(), ErrIdentityMismatch)
	})
}

func TestJoin(t *testing.T) {
	t.Run("success stores game and state", func(t *testing.T) {
		c, conn, snk := newTestClient(t)
		handshake(t, conn, snk)

		require.NoError(t, c.Join(protocol.JoinMatchmaking))
		payload := expectRequest(t, conn, protocol.ActionJoin, protocol.JoinRequestSize)
		assert.Equal(t, protocol.JoinMatchmaking, binary.BigEndian.Uint32(payload))

		state := sampleState(1, true)
		raw := state.Encode()
		resp := append([]byte{0, 0, 0, 7}, raw[:]...)
		writeResponse(t, conn, protocol.ActionJoin, protocol.StatusOK, resp...)

		e := snk.next(t, events.EventJoinedGame)
		p := e.Payload.(events.JoinedPayload)
		assert.Equal(t, uint32(7), p.GameID)
		assert.Equal(t, state, p.State)

		gameID, got, ok := c.Game()
		require.True(t, ok)
		assert.Equal(t, uint32(7), gameID)
		assert.Equal(t, state, got)
	})

	t.Run("unauthorized surfaces as error event", func(t *testing.T) {
		c, conn, snk := newTestClient(t)
		handshake(t, conn, snk)

		require.NoError(t, c.Join(42))
		expectRequest(t, conn, protocol.ActionJoin, protocol.JoinRequestSize)
		writeResponse(t, conn, protocol.ActionJoin, protocol.StatusUnauthorized)

		snk.next(t, events.EventError)
		require.NoError(t, c.Err(), "an unauthorized join is not fatal")
		_, _, ok := c.Game()
		assert.False(t, ok)
	})
}

func TestMove(t *testing.T) {
	t.Run("accepted move refreshes state", func(t *testing.T) {
		c, conn, snk := newTestClient(t)
		handshake(t, conn, snk)

		require.NoError(t, c.Move(3, 2))
		payload := expectRequest(t, conn, protocol.ActionMove, protocol.MoveRequestSize)
		x, y := protocol.UnpackMove(payload[0])
		assert.Equal(t, uint8(3), x)
		assert.Equal(t, uint8(2), y)

		state := sampleState(2, false)
		raw := state.Encode()
		writeResponse(t, conn, protocol.ActionMove, protocol.StatusOK, raw[:]...)

		e := snk.next(t, events.EventStateChanged)
		p := e.Payload.(events.StatePayload)
		assert.Empty(t, p.Notice)
		assert.Equal(t, state, p.State)
	})

	t.Run("rejected move resynchronizes with a notice", func(t *testing.T) {
		c, conn, snk := newTestClient(t)
		handshake(t, conn, snk)

		require.NoError(t, c.Move(0, 0))
		expectRequest(t, conn, protocol.ActionMove, protocol.MoveRequestSize)

		state := sampleState(1, true)
		raw := state.Encode()
		writeResponse(t, conn, protocol.ActionMove, protocol.StatusIllegal, raw[:]...)

		e := snk.next(t, events.EventStateChanged)
		p := e.Payload.(events.StatePayload)
		assert.Contains(t, p.Notice, "illegal move")
		assert.Equal(t, state, p.State)
		require.NoError(t, c.Err())
	})
}

func TestPushes(t *testing.T) {
	c, conn, snk := newTestClient(t)
	handshake(t, conn, snk)

	t.Run("gamestate refresh", func(t *testing.T) {
		state := sampleState(5, true)
		raw := state.Encode()
		writePush(t, conn, protocol.PushGamestate, raw[:]...)

		e := snk.next(t, events.EventStateChanged)
		p := e.Payload.(events.StatePayload)
		assert.Equal(t, state, p.State)
	})

	t.Run("opponent connect and disconnect", func(t *testing.T) {
		writePush(t, conn, protocol.PushConnect)
		snk.next(t, events.EventOpponentConnected)

		writePush(t, conn, protocol.PushDisconnect)
		snk.next(t, events.EventOpponentAway)
	})

	t.Run("terminal result", func(t *testing.T) {
		writePush(t, conn, protocol.PushWin)
		e := snk.next(t, events.EventMatchResult)
		p := e.Payload.(events.ResultPayload)
		assert.Equal(t, protocol.PushWin, p.Result)
	})

	require.NoError(t, c.Err())
}

func TestResponsesResolveInWireOrder(t *testing.T) {
	c, conn, snk := newTestClient(t)
	handshake(t, conn, snk)

	require.NoError(t, c.Move(3, 2))
	require.NoError(t, c.Move(2, 4))
	expectRequest(t, conn, protocol.ActionMove, protocol.MoveRequestSize)
	expectRequest(t, conn, protocol.ActionMove, protocol.MoveRequestSize)

	first := sampleState(2, false)
	raw := first.Encode()
	writeResponse(t, conn, protocol.ActionMove, protocol.StatusIllegal, raw[:]...)

	second := sampleState(3, true)
	raw = second.Encode()
	writeResponse(t, conn, protocol.ActionMove, protocol.StatusOK, raw[:]...)

	e := snk.next(t, events.EventStateChanged)
	assert.NotEmpty(t, e.Payload.(events.StatePayload).Notice)
	e = snk.next(t, events.EventStateChanged)
	assert.Empty(t, e.Payload.(events.StatePayload).Notice)
	require.NoError(t, c.Err())
}

func TestUnsolicitedResponseIsFatal(t *testing.T) {
	c, conn, snk := newTestClient(t)
	handshake(t, conn, snk)

	writeResponse(t, conn, protocol.ActionMove, protocol.StatusOK)

	snk.next(t, events.EventError)
	<-c.Done()
	require.Error(t, c.Err())
}

func TestMalformedStatusIsFatal(t *testing.T) {
	c, conn, snk := newTestClient(t)
	handshake(t, conn, snk)

	// Status 0x17 is outside the defined range but has bit 7 clear, so it
	// parses as a response preamble.
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write([]byte{0x17, byte(protocol.ActionMove)})
	require.NoError(t, err)

	snk.next(t, events.EventError)
	<-c.Done()
	require.Error(t, c.Err())
}
