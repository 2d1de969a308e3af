package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGameStateRoundTrip(t *testing.T) {
	for _, color := range []Color{Black, White} {
		for _, canMove := range []bool{false, true} {
			for turn := uint8(1); turn <= 63; turn++ {
				gs := GameState{
					Color:   color,
					CanMove: canMove,
					Turn:    turn,
					Board:   NewBoard(),
				}
				require.Equal(t, gs, DecodeGameState(gs.Encode()))
			}
		}
	}
}

func TestGameStateHeaderLayout(t *testing.T) {
	gs := GameState{Color: White, CanMove: true, Turn: 5, Board: NewBoard()}
	raw := gs.Encode()
	require.Equal(t, byte(0x80|0x40|5), raw[0])

	gs = GameState{Color: Black, CanMove: false, Turn: 63}
	raw = gs.Encode()
	require.Equal(t, byte(63), raw[0])
}
