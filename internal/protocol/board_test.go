package protocol

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBoardOpeningPosition(t *testing.T) {
	b := NewBoard()

	require.Equal(t, White, b[3][3])
	require.Equal(t, White, b[4][4])
	require.Equal(t, Black, b[3][4])
	require.Equal(t, Black, b[4][3])

	black, white := b.Count()
	require.Equal(t, 2, black)
	require.Equal(t, 2, white)
}

func TestBoardPackRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(0x486))
	colors := []Color{Empty, Black, White}

	for i := 0; i < 64; i++ {
		var b Board
		for row := 0; row < BoardSize; row++ {
			for col := 0; col < BoardSize; col++ {
				b[row][col] = colors[rng.Intn(len(colors))]
			}
		}
		require.Equal(t, b, UnpackBoard(b.Pack()))
	}
}

func TestBoardPackLayout(t *testing.T) {
	var b Board
	b[0][0] = White // high bits of the first byte
	b[0][3] = Black // low bits of the first byte
	b[7][7] = White // low bits of the last byte

	raw := b.Pack()
	require.Equal(t, byte(0x81), raw[0])
	require.Equal(t, byte(0x02), raw[15])
}

func TestColorOpponent(t *testing.T) {
	require.Equal(t, White, Black.Opponent())
	require.Equal(t, Black, White.Opponent())
	require.Equal(t, Empty, Empty.Opponent())
}
