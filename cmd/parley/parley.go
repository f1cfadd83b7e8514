// Package parleycmder
package parleycmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/parley/cmd/parley/auth"
	chatcmder "github.com/papercomputeco/parley/cmd/parley/chat"
	configcmder "github.com/papercomputeco/parley/cmd/parley/config"
	devservercmder "github.com/papercomputeco/parley/cmd/parley/devserver"
	historycmder "github.com/papercomputeco/parley/cmd/parley/history"
	tuicmder "github.com/papercomputeco/parley/cmd/parley/tui"
	versioncmder "github.com/papercomputeco/parley/cmd/version"
)

const parleyLongDesc string = `Parley is a terminal client for streaming chat backends.

Get started:
  parley devserver                Run a local in-memory backend
  parley auth register            Create an account and log in
  parley chat                     Chat in a line-oriented REPL
  parley tui                      Chat in a full-screen UI
  parley history list             List your chats`

const parleyShortDesc string = "Parley - streaming chat client"

func NewParleyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "parley",
		Short:        parleyShortDesc,
		Long:         parleyLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .parley/ config directory")

	// Add subcommands
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(tuicmder.NewTUICmd())
	cmd.AddCommand(historycmder.NewHistoryCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(devservercmder.NewDevserverCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
