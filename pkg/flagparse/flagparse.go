package flagparse

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-worldreset/pkg/buildinfo"
	"github.com/paulschiretz/pgl-worldreset/pkg/config"
)

// cliFlags holds pointers to every flag a command may register.
// A nil pointer means the current command does not know the flag.
type cliFlags struct {
	// Global
	Config   *string
	LogLevel *string

	// Shared: Run / Init
	Server      *string
	Backup      *string
	Worlds      *string
	IgnoredFile *string

	// Run specific
	ServerCommand    *string
	AutoStart        *bool
	CountdownSeconds *int
	PostResetHooks   *string
	ArchiveEnabled   *bool
	ArchiveFormat    *string
	BufferSizeKB     *int

	// Init specific
	Force   *bool
	Default *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Config = fs.String("config", config.ConfigFileName, "Path of the configuration file (.json or .toml).")
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
}

func registerPathFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Server = fs.String("server", "", "Working directory of the game server containing the worlds.")
	f.Backup = fs.String("backup", "", "Directory the overwrite backup is written to.")
	f.Worlds = fs.String("worlds", "", "Comma-separated list of world directory names to reset.")
	f.IgnoredFile = fs.String("ignored-files", "", "Comma-separated list of file names to leave out of the backup ('prefix*' and '*suffix' allowed).")
}

func registerRunFlags(fs *flag.FlagSet, f *cliFlags) {
	registerPathFlags(fs, f)
	f.ServerCommand = fs.String("server-command", "", "Command line that starts the game server.")
	f.AutoStart = fs.Bool("autostart", true, "Start the game server together with the daemon.")
	f.CountdownSeconds = fs.Int("countdown-seconds", 0, "Seconds to count down before a confirmed reset starts.")
	f.PostResetHooks = fs.String("post-reset-hooks", "", "Comma-separated list of commands to run after a reset.")
	f.ArchiveEnabled = fs.Bool("archive", false, "Pack the overwrite backup into a single archive after each reset.")
	f.ArchiveFormat = fs.String("archive-format", "", "Archive format: 'tar.gz' or 'tar.zst'.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for copies and archives.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	registerPathFlags(fs, f)
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.Default = fs.Bool("default", false, "Overwrite an existing configuration with defaults.")
}

var commandDescriptions = map[Command]string{
	Run:     "Run the game server and listen for reset commands.",
	Init:    "Write a configuration file.",
	Info:    "Show the last overwrite backup.",
	Version: "Print the application version.",
}

// Parse parses args (usually os.Args[1:]) and returns the command and the set flags.
func Parse(args []string) (Command, map[string]any, error) {
	return parse(args, os.Stderr)
}

func parse(args []string, out io.Writer) (Command, map[string]any, error) {
	if len(args) == 0 {
		printTopLevelUsage(out)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])
	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		printTopLevelUsage(out)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}
	if command == Version {
		return Version, nil, nil
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	fs.SetOutput(out)
	registerGlobalFlags(fs, f)
	switch command {
	case Run:
		registerRunFlags(fs, f)
	case Init:
		registerInitFlags(fs, f)
	}
	fs.Usage = func() {
		printSubcommandUsage(command, fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return command, flagsToMap(fs, f), nil
}

// flagsToMap returns only the flags the user set explicitly, so they can be
// merged over the loaded configuration. The config path is always present.
func flagsToMap(fs *flag.FlagSet, f *cliFlags) map[string]any {
	used := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { used[f.Name] = true })

	flagMap := map[string]any{"config": *f.Config}

	addIfUsed(flagMap, used, "log-level", f.LogLevel)
	addIfUsed(flagMap, used, "server", f.Server)
	addIfUsed(flagMap, used, "backup", f.Backup)
	addIfUsed(flagMap, used, "autostart", f.AutoStart)
	addIfUsed(flagMap, used, "countdown-seconds", f.CountdownSeconds)
	addIfUsed(flagMap, used, "archive", f.ArchiveEnabled)
	addIfUsed(flagMap, used, "archive-format", f.ArchiveFormat)
	addIfUsed(flagMap, used, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, used, "force", f.Force)
	addIfUsed(flagMap, used, "default", f.Default)

	addParsedIfUsed(flagMap, used, "worlds", f.Worlds, ParseExcludeList)
	addParsedIfUsed(flagMap, used, "ignored-files", f.IgnoredFile, ParseExcludeList)
	addParsedIfUsed(flagMap, used, "post-reset-hooks", f.PostResetHooks, ParseCmdList)
	addParsedIfUsed(flagMap, used, "server-command", f.ServerCommand, strings.Fields)

	return flagMap
}

func addIfUsed[T any](flagMap map[string]any, used map[string]bool, name string, ptr *T) {
	if ptr != nil && used[name] {
		flagMap[name] = *ptr
	}
}

func addParsedIfUsed(flagMap map[string]any, used map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && used[name] {
		flagMap[name] = parser(*ptr)
	}
}

func printTopLevelUsage(out io.Writer) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(out, "%s(%s) Quickly reset the worlds of a game server, with a safety backup.\n\n", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(out, "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(out, "Commands:\n")
	for _, c := range []Command{Run, Init, Info, Version} {
		fmt.Fprintf(out, "  %-10s %s\n", c, commandDescriptions[c])
	}
	fmt.Fprintf(out, "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

func printSubcommandUsage(command Command, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s)\n\n", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", commandDescriptions[command])
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell commands, keeping quotes
// and backslash escapes for the shell.
func ParseCmdList(s string) []string {
	return parseList(s, true, true)
}

// ParseExcludeList parses a comma-separated list of names. Quotes only group
// items and are dropped; backslashes are literal.
func ParseExcludeList(s string) []string {
	return parseList(s, false, false)
}

// parseList splits s on commas outside single or double quotes.
func parseList(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune
	var escaped bool

	flush := func() {
		if item := strings.TrimSpace(current.String()); item != "" {
			list = append(list, item)
		}
		current.Reset()
	}

	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && handleEscapes:
			escaped = true
			current.WriteRune(r)
		case (r == '\'' || r == '"') && (quoteChar == 0 || quoteChar == r):
			if quoteChar == 0 {
				quoteChar = r
			} else {
				quoteChar = 0
			}
			if keepQuotes {
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return list
}
