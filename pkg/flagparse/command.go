package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-worldreset/pkg/util"
)

// Command is the CLI command to execute.
type Command int

const (
	None Command = iota
	Run
	Init
	Info
	Version
)

var commandToString = map[Command]string{
	None:    "none",
	Run:     "run",
	Init:    "init",
	Info:    "info",
	Version: "version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok && command != None {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'run', 'init', 'info', or 'version'", s)
}
