// nadir is a real-time terminal viewer for notification style messages.
//
// Sources push messages over websockets or are read locally; nadir keeps the
// most recent messages of each group and shows the groups ranked by
// importance.
//
// Usage:
//
//	nadir                             # read nadir.yaml if present
//	nadir --config <path>             # use a specific config file
//	nadir --listen :6969              # accept websocket sources
//	nadir --connect ws://host/feed    # pull from a websocket source
//	nadir --clockmail                 # mirror the clockmail database
//	nadir --maildir ~/Mail/inbox      # show unread mail
//	nadir --demo                      # built-in message generator
//	nadir --headless                  # no TUI, log each flush
//	nadir send ws://host:6969 '{"Add": {...}}'
//	nadir --version                   # print version and exit
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/nadir_viewer/internal/config"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

type rootOptions struct {
	configPath  string
	listen      string
	connect     []string
	demo        bool
	clockmail   bool
	clockmailDB string
	maildir     string
	window      time.Duration
	refresh     time.Duration
	headless    bool
	logLevel    string
	logFile     string
	version     bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nadir: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return rootCommand(&rootOptions{})
}

// rootCommand binds the flags to opts.
func rootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nadir",
		Short:         "Real-time viewer for notification groups",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.version {
				fmt.Fprintf(cmd.OutOrStdout(), "nadir %s\n", Version)
				return nil
			}
			s, err := loadSettings(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), s, opts.headless)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "config file (default: "+config.DefaultPath+" if present)")
	f.StringVar(&opts.listen, "listen", "", "accept websocket sources on host:port")
	f.StringSliceVar(&opts.connect, "connect", nil, "websocket URL to pull envelopes from (repeatable)")
	f.BoolVar(&opts.demo, "demo", false, "run the built-in message generator")
	f.BoolVar(&opts.clockmail, "clockmail", false, "mirror the clockmail database")
	f.StringVar(&opts.clockmailDB, "clockmail-db", "", "path to clockmail.db (implies --clockmail)")
	f.StringVar(&opts.maildir, "maildir", "", "show unread mail of this maildir")
	f.DurationVar(&opts.window, "window", 0, "batch quiescence window")
	f.DurationVar(&opts.refresh, "refresh", 0, "redraw interval without new data")
	f.BoolVar(&opts.headless, "headless", false, "run without the TUI and log to stderr")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	f.StringVar(&opts.logFile, "log-file", "", "append logs to this file")
	f.BoolVar(&opts.version, "version", false, "print version and exit")

	cmd.AddCommand(newSendCommand())
	return cmd
}

// loadSettings reads the config file and lets flags that were set on the
// command line override it.
func loadSettings(cmd *cobra.Command, opts *rootOptions) (config.Settings, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return config.Settings{}, fmt.Errorf("config: %w", err)
	}

	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = opts.listen
	}
	if f.Changed("connect") {
		cfg.Connect = opts.connect
	}
	if f.Changed("demo") {
		cfg.Demo.Enabled = opts.demo
	}
	if f.Changed("clockmail") {
		cfg.Clockmail.Enabled = opts.clockmail
	}
	if opts.clockmailDB != "" {
		cfg.Clockmail.Enabled = true
		cfg.Clockmail.DB = opts.clockmailDB
	}
	if opts.maildir != "" {
		cfg.Maildir.Path = opts.maildir
	}
	if f.Changed("window") {
		cfg.BatchWindow = opts.window.String()
	}
	if f.Changed("refresh") {
		cfg.Refresh = opts.refresh.String()
	}
	if f.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if f.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}

	s, err := cfg.Resolve()
	if err != nil {
		return config.Settings{}, fmt.Errorf("config: %w", err)
	}
	return s, nil
}
