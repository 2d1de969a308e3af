package protocol

// Color is the state of a single board cell.
type Color byte

const (
	Empty Color = 0
	Black Color = 1
	White Color = 2
)

// String returns the color mnemonic.
func (c Color) String() string {
	switch c {
	case Black:
		return "BLACK"
	case White:
		return "WHITE"
	default:
		return "EMPTY"
	}
}

// Opponent returns the opposing color. Empty maps to Empty.
func (c Color) Opponent() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	default:
		return Empty
	}
}

// BoardSize is the side length of the square board.
const BoardSize = 8

// PackedBoardSize is the packed wire size of a full board:
// 2 bits per cell, 4 cells per byte, row-major, high bits first.
const PackedBoardSize = 16

// Board is an 8x8 grid of cells, indexed [row][col].
type Board [BoardSize][BoardSize]Color

// NewBoard returns a board in the standard opening position: white on the
// main-diagonal center cells, black on the anti-diagonal ones.
func NewBoard() Board {
	var b Board
	b[3][3] = White
	b[4][4] = White
	b[3][4] = Black
	b[4][3] = Black
	return b
}

// Pack encodes the board into its 16-byte wire form.
func (b *Board) Pack() [PackedBoardSize]byte {
	var raw [PackedBoardSize]byte
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			idx := row*BoardSize + col
			shift := uint(6 - 2*(idx%4))
			raw[idx/4] |= byte(b[row][col]) << shift
		}
	}
	return raw
}

// UnpackBoard decodes a 16-byte packed board. Cell values outside the
// defined colors cannot occur: every 2-bit field maps to a Color, and the
// reserved bit pattern 3 is never produced by Pack.
func UnpackBoard(raw [PackedBoardSize]byte) Board {
	var b Board
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			idx := row*BoardSize + col
			shift := uint(6 - 2*(idx%4))
			b[row][col] = Color(raw[idx/4] >> shift & 0x03)
		}
	}
	return b
}

// Count tallies the black and white cells on the board.
func (b *Board) Count() (black, white int) {
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			switch b[row][col] {
			case Black:
				black++
			case White:
				white++
			}
		}
	}
	return black, white
}
