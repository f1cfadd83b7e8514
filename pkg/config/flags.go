package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --model
// on both "parley chat" and "parley tui").
type Flag struct {
	// Name is the long flag name (e.g. "model").
	Name string

	// Shorthand is the one-letter short flag (e.g. "m"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "client.model").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling the Add*Flag helpers and
// BindRegisteredFlags to avoid drift from one command to another.
const (
	FlagTarget      = "target"
	FlagModel       = "model"
	FlagStream      = "stream"
	FlagIdleTimeout = "idle-timeout"
	FlagPersist     = "persist"
	FlagListen      = "listen"
	FlagChunkDelay  = "chunk-delay"
)

// ClientFlags are the flags shared by every command that talks to a backend.
var ClientFlags = FlagSet{
	FlagTarget: {
		Name:        "target",
		Shorthand:   "t",
		ViperKey:    "client.target",
		Description: "Chat backend URL",
	},
	FlagModel: {
		Name:        "model",
		Shorthand:   "m",
		ViperKey:    "client.model",
		Description: "Model name sent with each prompt",
	},
	FlagStream: {
		Name:        "stream",
		ViperKey:    "client.stream",
		Description: "Stream replies as they are generated",
	},
	FlagIdleTimeout: {
		Name:        "idle-timeout",
		ViperKey:    "client.idle_timeout",
		Description: "Close a stream after this long without an event",
	},
	FlagPersist: {
		Name:        "persist",
		ViperKey:    "client.persist",
		Description: "Keep sessions in the .parley directory between runs",
	},
}

// DevserverFlags are the flags of "parley devserver".
var DevserverFlags = FlagSet{
	FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "devserver.listen",
		Description: "Address to listen on",
	},
	FlagChunkDelay: {
		Name:        "chunk-delay",
		ViperKey:    "devserver.chunk_delay",
		Description: "Delay between streamed chunks",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, key string, target *bool) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddDurationFlag registers a duration flag on cmd from the given FlagSet.
func AddDurationFlag(cmd *cobra.Command, fs FlagSet, key string, target *time.Duration) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultDuration(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().DurationVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().DurationVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

func defaults() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	return defaults().GetString(viperKey)
}

// defaultBool returns the default bool value for a viper key from NewDefaultConfig.
func defaultBool(viperKey string) bool {
	return defaults().GetBool(viperKey)
}

// defaultDuration returns the default duration value for a viper key from NewDefaultConfig.
func defaultDuration(viperKey string) time.Duration {
	return defaults().GetDuration(viperKey)
}
