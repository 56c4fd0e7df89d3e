// Package command parses the "!!reset" console and chat commands and routes
// them to the reset session after checking the caller's permission level.
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulschiretz/pgl-worldreset/pkg/buildinfo"
	"github.com/paulschiretz/pgl-worldreset/pkg/util"
)

// Subcommand is the word following the command prefix.
type Subcommand int

const (
	Help Subcommand = iota
	Run
	Confirm
	Abort
	Reload
	Status
)

var subcommandToString = map[Subcommand]string{
	Help:    "help",
	Run:     "run",
	Confirm: "confirm",
	Abort:   "abort",
	Reload:  "reload",
	Status:  "status",
}

var stringToSubcommand map[string]Subcommand

func init() {
	stringToSubcommand = util.InvertMap(subcommandToString)
}

func (s Subcommand) String() string {
	if str, ok := subcommandToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_subcommand(%d)", s)
}

// ParseSubcommand parses a subcommand word.
func ParseSubcommand(s string) (Subcommand, error) {
	if sub, ok := stringToSubcommand[s]; ok {
		return sub, nil
	}
	return Help, fmt.Errorf("%w: %q", ErrUnknownSubcommand, s)
}

var (
	// ErrNotCommand is returned for lines that do not start with the command prefix.
	ErrNotCommand        = errors.New("not a reset command")
	ErrUnknownSubcommand = errors.New("unknown subcommand")
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrInvalidSlot       = errors.New("invalid slot")
)

// Request is a parsed command line.
type Request struct {
	Sub Subcommand
	// Slot is 0 when no slot was given.
	Slot int
}

// Parse parses a command line. The slot range is checked separately by
// ValidateSlot so permission can be checked first.
func Parse(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != buildinfo.CommandPrefix {
		return Request{}, ErrNotCommand
	}
	if len(fields) == 1 {
		return Request{Sub: Help}, nil
	}

	sub, err := ParseSubcommand(fields[1])
	if err != nil {
		return Request{}, err
	}
	args := fields[2:]

	switch {
	case sub == Run && len(args) == 1:
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return Request{}, fmt.Errorf("%w: slot %q is not a number", ErrInvalidArguments, args[0])
		}
		return Request{Sub: Run, Slot: slot}, nil
	case len(args) > 0:
		return Request{}, fmt.Errorf("%w: %s takes no arguments", ErrInvalidArguments, sub)
	}
	return Request{Sub: sub}, nil
}

// ValidateSlot checks an explicitly given slot against the configured count.
func ValidateSlot(slot, slotCount int) error {
	if slot == 0 {
		return nil
	}
	if slot < 1 || slot > slotCount {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidSlot, slot, slotCount)
	}
	return nil
}

// chatPattern matches vanilla server chat output such as
// "[12:00:00] [Server thread/INFO]: <Steve> !!reset run", including the
// "[Not Secure] " marker newer servers put in front of unsigned chat.
var chatPattern = regexp.MustCompile(`^\[[^\]]*\] \[[^\]]*\]: (?:\[Not Secure\] )?<([A-Za-z0-9_]{1,16})> (.*)$`)

// ParseChat extracts the player name and message from a server output line.
func ParseChat(line string) (player, msg string, ok bool) {
	m := chatPattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Usage returns the help text, one line per subcommand.
func Usage() []string {
	p := buildinfo.CommandPrefix
	return []string{
		fmt.Sprintf("%s(%s) Quickly reset the worlds of the server", buildinfo.Name, buildinfo.Version),
		fmt.Sprintf("%s: show this help message", p),
		fmt.Sprintf("%s run [<slot>]: request a world reset", p),
		fmt.Sprintf("%s confirm: confirm the requested reset", p),
		fmt.Sprintf("%s abort: abort a requested or counting down reset", p),
		fmt.Sprintf("%s reload: reload the configuration file", p),
		fmt.Sprintf("%s status: show the current reset state", p),
	}
}
