// Package cli implements the interactive terminal interface of the match
// client: the command loop, move input parsing, and board rendering. It
// consumes the protocol core only through the event bus and the client's
// request methods.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/ivans-csu/super-cow-powers/internal/client"
	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/protocol"
)

// CLI provides the interactive client command loop.
type CLI struct {
	bus    *events.Bus
	client *client.Client
	out    io.Writer
}

// NewCLI creates a CLI and subscribes it to the client-side events.
// Subscribe before dialing so the connection handshake is not missed.
func NewCLI(bus *events.Bus) *CLI {
	cli := &CLI{
		bus: bus,
		out: os.Stdout,
	}
	cli.subscribeEvents()
	return cli
}

// Attach binds the CLI to a connected client.
func (c *CLI) Attach(client *client.Client) {
	c.client = client
}

func (c *CLI) subscribeEvents() {
	c.bus.Subscribe(events.EventConnected, "cli.connected", func(e events.Event) {
		p := e.Payload.(events.ConnectedPayload)
		fmt.Fprintf(c.out, "Connected as user %d (protocol %d). Type 'help' for commands.\n", p.UserID, p.Protocol)
	})
	c.bus.Subscribe(events.EventJoinedGame, "cli.joined", func(e events.Event) {
		p := e.Payload.(events.JoinedPayload)
		fmt.Fprintf(c.out, "Joined game %d playing %s.\n", p.GameID, strings.ToLower(p.State.Color.String()))
		c.renderState(p.State)
	})
	c.bus.Subscribe(events.EventStateChanged, "cli.state", func(e events.Event) {
		p := e.Payload.(events.StatePayload)
		if p.Notice != "" {
			fmt.Fprintf(c.out, "Rejected: %s\n", p.Notice)
		}
		c.renderState(p.State)
	})
	c.bus.Subscribe(events.EventMatchResult, "cli.result", func(e events.Event) {
		p := e.Payload.(events.ResultPayload)
		switch p.Result {
		case protocol.PushWin:
			fmt.Fprintln(c.out, "You win!")
		case protocol.PushLose:
			fmt.Fprintln(c.out, "You lose.")
		default:
			fmt.Fprintln(c.out, "It's a tie.")
		}
	})
	c.bus.Subscribe(events.EventOpponentConnected, "cli.oppConnect", func(events.Event) {
		fmt.Fprintln(c.out, "Opponent connected.")
	})
	c.bus.Subscribe(events.EventOpponentAway, "cli.oppAway", func(events.Event) {
		fmt.Fprintln(c.out, "Opponent disconnected. They may rejoin; moves still resolve.")
	})
	c.bus.Subscribe(events.EventError, "cli.error", func(e events.Event) {
		p := e.Payload.(events.ErrorPayload)
		fmt.Fprintf(c.out, "Error: %s\n", p.Message)
	})
}

// Start runs the command loop until EOF, quit, or context cancellation.
func (c *CLI) Start(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.client.Done():
			fmt.Fprintln(c.out, "Connection closed.")
			return
		default:
		}

		fmt.Fprint(c.out, "reversi> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if cmd == "quit" || cmd == "exit" || cmd == "q" {
			return
		}
		if err := c.execute(cmd, args); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// execute processes a single command.
func (c *CLI) execute(cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "join", "j":
		return c.cmdJoin(args)
	case "move", "m":
		return c.cmdMove(args)
	case "board", "b":
		c.cmdBoard()
	case "status", "s":
		c.cmdStatus()
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  join              enter matchmaking
  join private      create a private game and wait for an opponent
  join <id>         join or rejoin a specific game by id
  move <cell>       place a piece, e.g. 'move d3' or 'move 3 2'
  board             redraw the current board
  status            show game id, color, turn and score
  help              show this help message
  quit              disconnect and exit`)
}

func (c *CLI) cmdJoin(args []string) error {
	target := protocol.JoinMatchmaking
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "match", "matchmaking":
		case "private", "new":
			target = protocol.JoinPrivate
		default:
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil || uint32(id) < protocol.FirstGameID {
				return fmt.Errorf("invalid game id: %s", args[0])
			}
			target = uint32(id)
		}
	}
	return c.client.Join(target)
}

func (c *CLI) cmdMove(args []string) error {
	x, y, err := parseMove(args)
	if err != nil {
		return err
	}
	return c.client.Move(x, y)
}

func (c *CLI) cmdBoard() {
	_, state, ok := c.client.Game()
	if !ok {
		fmt.Fprintln(c.out, "Not in a game. Use 'join' first.")
		return
	}
	c.renderState(state)
}

func (c *CLI) cmdStatus() {
	gameID, state, ok := c.client.Game()
	if !ok {
		fmt.Fprintln(c.out, "Not in a game. Use 'join' first.")
		return
	}

	black, white := state.Board.Count()
	turn := "waiting for opponent"
	if state.CanMove {
		turn = "your move"
	}
	fmt.Fprintf(c.out, "Game %d | playing %s | turn %d | %s | black %d : white %d\n",
		gameID, strings.ToLower(state.Color.String()), state.Turn, turn, black, white)
}

// renderState draws the board with a-h column and 1-8 row labels.
func (c *CLI) renderState(state protocol.GameState) {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"", "a", "b", "c", "d", "e", "f", "g", "h"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for row := 0; row < protocol.BoardSize; row++ {
		cells := make([]string, 1, protocol.BoardSize+1)
		cells[0] = strconv.Itoa(row + 1)
		for col := 0; col < protocol.BoardSize; col++ {
			cells = append(cells, cellGlyph(state.Board[row][col]))
		}
		tw.Append(cells)
	}
	tw.Render()

	if state.CanMove {
		fmt.Fprintln(c.out, "Your move.")
	}
}

func cellGlyph(c protocol.Color) string {
	switch c {
	case protocol.Black:
		return "●"
	case protocol.White:
		return "○"
	default:
		return " "
	}
}

// parseMove accepts algebraic cells ('d3': column d, row 3) or a bare
// coordinate pair ('3 2': column 3, row 2, zero-based).
func parseMove(args []string) (x, y uint8, err error) {
	switch len(args) {
	case 1:
		cell := strings.ToLower(args[0])
		if len(cell) != 2 {
			return 0, 0, fmt.Errorf("invalid cell: %s", args[0])
		}
		col := cell[0] - 'a'
		row := cell[1] - '1'
		if col >= protocol.BoardSize || row >= protocol.BoardSize {
			return 0, 0, fmt.Errorf("cell out of range: %s", args[0])
		}
		return col, row, nil

	case 2:
		cx, errX := strconv.ParseUint(args[0], 10, 8)
		cy, errY := strconv.ParseUint(args[1], 10, 8)
		if errX != nil || errY != nil || cx >= protocol.BoardSize || cy >= protocol.BoardSize {
			return 0, 0, fmt.Errorf("coordinates out of range: %s %s", args[0], args[1])
		}
		return uint8(cx), uint8(cy), nil

	default:
		return 0, 0, fmt.Errorf("usage: move <cell>, e.g. 'move d3'")
	}
}
