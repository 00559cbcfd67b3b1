package main

import (
	"github.com/matsen/snapsync/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage global snapsync configuration",
}

// ConfigResponse is the response for config get commands.
type ConfigResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// UpdateResponse is the response for config set commands.
type UpdateResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a global config value",
	Long:  "Supported keys: github_token",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	key := args[0]
	var value string
	switch key {
	case "github_token":
		value = cfg.GitHubToken
	default:
		exitWithError(ExitError, "unknown config key %q", key)
	}

	if humanOutput {
		outputHuman("%s\n", value)
		return nil
	}
	return outputJSON(ConfigResponse{Key: key, Value: value})
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a global config value",
	Long:  "Supported keys: github_token",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	key, value := args[0], args[1]
	switch key {
	case "github_token":
		cfg.GitHubToken = value
	default:
		exitWithError(ExitError, "unknown config key %q", key)
	}

	if err := config.SaveGlobalConfig(cfg); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	if humanOutput {
		outputHuman("set %s\n", key)
		return nil
	}
	return outputJSON(UpdateResponse{Status: "updated", Key: key})
}
