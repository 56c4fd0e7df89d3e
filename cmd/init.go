package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/paulschiretz/pgl-worldreset/pkg/buildinfo"
	"github.com/paulschiretz/pgl-worldreset/pkg/config"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	path, _ := flagMap["config"].(string)
	if path == "" {
		path = config.ConfigFileName
	}
	initDefault, _ := flagMap["default"].(bool)
	force, _ := flagMap["force"].(bool)

	var baseConfig config.Config
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if initDefault || !exists {
		if initDefault && exists && !force {
			fmt.Printf("WARNING: Configuration file already exists at %s.\n", path)
			fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
			if !PromptForConfirmation("Are you sure you want to continue?", false) {
				plog.Info(buildinfo.Name + " init operation canceled.")
				return nil
			}
		}
		baseConfig = config.NewDefault()
	} else {
		var err error
		baseConfig, err = config.Load(path)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
		}
	}

	runConfig := config.MergeConfigWithFlags(baseConfig, flagMap)

	// Validate a copy so the file keeps the paths as the user wrote them.
	check := runConfig
	if err := check.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := config.Generate(path, runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}
	plog.Info(buildinfo.Name+" configuration written.", "path", path)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
