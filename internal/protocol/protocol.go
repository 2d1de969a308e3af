// Package protocol implements the binary wire codec shared by the match
// server and the client: request/response/push preambles, the packed board
// representation, and the 17-byte game-state block. All multi-byte integers
// are big-endian. No message type is variable-length.
package protocol

import "encoding/binary"

// Action identifies a client-initiated request kind. Every action is
// answered by exactly one response on the same connection, in order.
type Action byte

const (
	ActionHello Action = 0
	ActionJoin  Action = 1
	ActionMove  Action = 2
)

// ActionCount is the number of defined actions.
const ActionCount = 3

// String returns the action mnemonic.
func (a Action) String() string {
	switch a {
	case ActionHello:
		return "HELLO"
	case ActionJoin:
		return "JOIN"
	case ActionMove:
		return "MOVE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether a is a defined action id.
func (a Action) Valid() bool { return a < ActionCount }

// Status is the result code carried in a response preamble.
// The high bit of a status byte is always clear; it is what distinguishes
// a response preamble from a push preamble on the wire.
type Status byte

const (
	StatusOK           Status = 0
	StatusBadFormat    Status = 1
	StatusIllegal      Status = 2
	StatusInvalid      Status = 3
	StatusUnsupported  Status = 4
	StatusUnauthorized Status = 5
)

// StatusCount is the number of defined status codes.
const StatusCount = 6

// String returns the status mnemonic.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadFormat:
		return "BAD_FORMAT"
	case StatusIllegal:
		return "ILLEGAL"
	case StatusInvalid:
		return "INVALID"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is a defined status code.
func (s Status) Valid() bool { return s < StatusCount }

// Push identifies an unsolicited server-to-client message type.
type Push uint16

const (
	PushConnect    Push = 0
	PushDisconnect Push = 1
	PushGamestate  Push = 2
	PushWin        Push = 3
	PushLose       Push = 4
	PushTie        Push = 5
)

// String returns the push mnemonic.
func (p Push) String() string {
	switch p {
	case PushConnect:
		return "CONNECT"
	case PushDisconnect:
		return "DCONNECT"
	case PushGamestate:
		return "GAMESTATE"
	case PushWin:
		return "WIN"
	case PushLose:
		return "LOSE"
	case PushTie:
		return "TIE"
	default:
		return "UNKNOWN"
	}
}

// PreambleSize is the size of both preamble shapes.
const PreambleSize = 2

// pushFlag marks the first wire byte of a push preamble.
const pushFlag = 0x8000

// ResponsePreamble is the fixed 2-byte header preceding every response:
// status byte first, then the action id being answered.
type ResponsePreamble struct {
	Action Action
	Status Status
}

// Encode returns the packed preamble. The status high bit is always clear.
func (p ResponsePreamble) Encode() [PreambleSize]byte {
	return [PreambleSize]byte{byte(p.Status) & 0x7f, byte(p.Action)}
}

// DecodeResponsePreamble unpacks a response preamble.
func DecodeResponsePreamble(raw [PreambleSize]byte) ResponsePreamble {
	return ResponsePreamble{
		Action: Action(raw[1]),
		Status: Status(raw[0]),
	}
}

// EncodePush returns the packed push preamble: a big-endian uint16 with
// bit 15 set and the push type in the low 15 bits.
func EncodePush(p Push) [PreambleSize]byte {
	var raw [PreambleSize]byte
	binary.BigEndian.PutUint16(raw[:], uint16(p)|pushFlag)
	return raw
}

// DecodePush unpacks a push preamble. ok is false when bit 15 is clear,
// i.e. the bytes are a response preamble, not a push.
func DecodePush(raw [PreambleSize]byte) (p Push, ok bool) {
	v := binary.BigEndian.Uint16(raw[:])
	if v&pushFlag == 0 {
		return 0, false
	}
	return Push(v &^ pushFlag), true
}

// IsPush reports whether the first byte of a 2-byte preamble marks a push.
func IsPush(first byte) bool { return first&0x80 != 0 }

// Request payload sizes for protocol version 0, excluding the 1-byte
// action id. HELLO is max_protocol:u16 + user_id:u32, JOIN is game_id:u32,
// MOVE is a packed coordinate nibble pair.
const (
	HelloRequestSize = 6
	JoinRequestSize  = 4
	MoveRequestSize  = 1
)

// JOIN request targets. Values 0 and 1 are reserved wire sentinels; real
// game ids start at FirstGameID.
const (
	JoinMatchmaking uint32 = 0
	JoinPrivate     uint32 = 1
	FirstGameID     uint32 = 2
)

// PackMove packs board coordinates into the MOVE request byte:
// x in the high nibble, y in the low nibble.
func PackMove(x, y uint8) byte {
	return (x&0x0f)<<4 | y&0x0f
}

// UnpackMove splits a MOVE request byte into coordinates.
func UnpackMove(b byte) (x, y uint8) {
	return b >> 4, b & 0x0f
}
