package command

import (
	"fmt"
	"io"
	"sync"

	"github.com/paulschiretz/pgl-worldreset/pkg/config"
)

// messagePrefix marks every message sent to the console or to players.
const messagePrefix = "[QWR] "

// Source is a reset.Source with a permission level.
type Source interface {
	Name() string
	Reply(msg string)
	Level() int
}

// ConsoleSource is the server operator typing on the daemon's stdin.
type ConsoleSource struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSource writes replies to out.
func NewConsoleSource(out io.Writer) *ConsoleSource {
	return &ConsoleSource{out: out}
}

func (c *ConsoleSource) Name() string { return "Console" }

func (c *ConsoleSource) Level() int { return config.LevelOwner }

func (c *ConsoleSource) Reply(msg string) {
	c.Echo(messagePrefix + msg)
}

// Echo writes line to the console unprefixed, serialized with replies.
func (c *ConsoleSource) Echo(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// Sender delivers a command line to the server's console.
type Sender interface {
	Send(line string) error
}

// PlayerSource is an in-game player issuing commands through chat.
type PlayerSource struct {
	player string
	level  int
	server Sender
}

// NewPlayerSource creates a source for player that talks back through server.
func NewPlayerSource(player string, level int, server Sender) *PlayerSource {
	return &PlayerSource{player: player, level: level, server: server}
}

func (p *PlayerSource) Name() string { return p.player }

func (p *PlayerSource) Level() int { return p.level }

// Reply whispers msg to the player.
func (p *PlayerSource) Reply(msg string) {
	p.send("tell " + p.player + " " + messagePrefix + msg)
}

// Announce broadcasts msg to everyone on the server.
func (p *PlayerSource) Announce(msg string) {
	p.send("say " + messagePrefix + msg)
}

func (p *PlayerSource) send(line string) {
	// A stopped server cannot deliver chat; the daemon log still has the event.
	_ = p.server.Send(line)
}
