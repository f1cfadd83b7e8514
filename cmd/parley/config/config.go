// Package configcmder provides the config command for managing persistent
// parley configuration stored in the .parley/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent parley configuration.

Configuration is stored as config.toml in the .parley/ directory and provides
default values for command flags. CLI flags and PARLEY_* environment
variables take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  client.target, client.model, client.stream,
  client.idle_timeout, client.persist,
  devserver.listen, devserver.chunk_delay

Use subcommands to get, set, or list configuration values:
  parley config set <key> <value>    Set a configuration value
  parley config get <key>            Get a configuration value
  parley config list                 List all configuration values

Examples:
  parley config set client.target https://chat.example.com
  parley config set client.stream false
  parley config get client.model
  parley config list`

const configShortDesc string = "Manage persistent parley configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
