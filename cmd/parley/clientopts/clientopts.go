// Package clientopts holds the flags shared by every command that talks to
// a chat backend, and builds the client from them.
package clientopts

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/parley/pkg/client"
	"github.com/papercomputeco/parley/pkg/config"
	"github.com/papercomputeco/parley/pkg/logger"
)

var clientFlagKeys = []string{
	config.FlagTarget,
	config.FlagModel,
	config.FlagStream,
	config.FlagIdleTimeout,
	config.FlagPersist,
}

// Options are the resolved client settings of one command invocation.
type Options struct {
	Target      string
	Model       string
	Stream      bool
	IdleTimeout time.Duration
	Persist     bool

	Debug     bool
	ConfigDir string

	// LogFile receives a JSON copy of the command log when set.
	LogFile string
}

// Register adds the client flags to cmd.
func Register(cmd *cobra.Command, o *Options) {
	config.AddStringFlag(cmd, config.ClientFlags, config.FlagTarget, &o.Target)
	config.AddStringFlag(cmd, config.ClientFlags, config.FlagModel, &o.Model)
	config.AddBoolFlag(cmd, config.ClientFlags, config.FlagStream, &o.Stream)
	config.AddDurationFlag(cmd, config.ClientFlags, config.FlagIdleTimeout, &o.IdleTimeout)
	config.AddBoolFlag(cmd, config.ClientFlags, config.FlagPersist, &o.Persist)
}

// RegisterLogFile adds --log-file to a long-running command.
func RegisterLogFile(cmd *cobra.Command, o *Options) {
	cmd.Flags().StringVar(&o.LogFile, "log-file", "", "Also write debug logs as JSON to this file")
}

// Resolve fills o through the precedence chain flag > env > config file >
// default. Call it from PreRunE.
func (o *Options) Resolve(cmd *cobra.Command) error {
	o.ConfigDir, _ = cmd.Flags().GetString("config-dir")
	o.Debug, _ = cmd.Flags().GetBool("debug")

	v, err := config.InitViper(o.ConfigDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.ClientFlags, clientFlagKeys)

	o.Target = v.GetString("client.target")
	o.Model = v.GetString("client.model")
	o.Stream = v.GetBool("client.stream")
	o.IdleTimeout = v.GetDuration("client.idle_timeout")
	o.Persist = v.GetBool("client.persist")

	if o.Target == "" {
		return fmt.Errorf("no backend target: pass --%s or run \"parley config set client.target <url>\"", config.FlagTarget)
	}
	return nil
}

// Logger builds the command logger. Interactive commands log to stderr so
// they do not interleave with the conversation on stdout.
func (o *Options) Logger() *slog.Logger {
	return logger.New(
		logger.WithDebug(o.Debug),
		logger.WithPretty(true),
		logger.WithWriter(os.Stderr),
	)
}

// LoggerWithFile builds the command logger. With LogFile set, every record
// at debug level and above is also appended to the file as JSON. The
// returned close func releases the file.
func (o *Options) LoggerWithFile() (*slog.Logger, func() error, error) {
	console := o.Logger()
	if o.LogFile == "" {
		return console, func() error { return nil }, nil
	}

	f, err := os.OpenFile(o.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	file := logger.New(
		logger.WithDebug(true),
		logger.WithJSON(true),
		logger.WithSource(true),
		logger.WithWriters(f),
	)
	return logger.Multi(console, file), f.Close, nil
}

// NewClient builds a chat client from o. transcript may be nil.
func (o *Options) NewClient(log *slog.Logger, transcript io.Writer) (*client.Client, error) {
	cl, err := client.New(&client.Config{
		Target:      o.Target,
		IdleTimeout: o.IdleTimeout,
		ConfigDir:   o.ConfigDir,
		Persist:     o.Persist,
		Transcript:  transcript,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	return cl, nil
}
