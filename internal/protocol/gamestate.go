package protocol

// GameStateSize is the packed wire size of a game-state block:
// one header byte followed by the packed board.
const GameStateSize = 1 + PackedBoardSize

// Game-state header bit layout.
const (
	stateColorBit   = 0x80 // set when the recipient plays white
	stateCanMoveBit = 0x40 // set when the recipient may move now
	stateTurnMask   = 0x3f
)

// GameState is a snapshot of a match from one player's perspective.
// Turn is capped at 63 by the 6-bit wire field; a finished game holds at
// most 60 placed pieces, so the cap is never reached in play.
type GameState struct {
	Color   Color // the recipient's color
	CanMove bool  // whether the recipient may move now
	Turn    uint8
	Board   Board
}

// Encode packs the game state into its fixed 17-byte wire form.
func (gs *GameState) Encode() [GameStateSize]byte {
	var raw [GameStateSize]byte
	header := gs.Turn & stateTurnMask
	if gs.Color == White {
		header |= stateColorBit
	}
	if gs.CanMove {
		header |= stateCanMoveBit
	}
	raw[0] = header

	packed := gs.Board.Pack()
	copy(raw[1:], packed[:])
	return raw
}

// DecodeGameState unpacks a 17-byte game-state block.
func DecodeGameState(raw [GameStateSize]byte) GameState {
	gs := GameState{
		CanMove: raw[0]&stateCanMoveBit != 0,
		Turn:    raw[0] & stateTurnMask,
	}
	if raw[0]&stateColorBit != 0 {
		gs.Color = White
	} else {
		gs.Color = Black
	}

	var packed [PackedBoardSize]byte
	copy(packed[:], raw[1:])
	gs.Board = UnpackBoard(packed)
	return gs
}
