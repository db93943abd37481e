// Package main is relayprobe, a command-line toolbox for poking at Nostr
// relays: fetch and post events, walk through NIP-42 auth, read a relay's
// information document, and handle keys.
//
// Every frame sent to or received from the relay is mirrored to stderr.
// Events found by fetch commands are written to stdout, one JSON object per
// line.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codeGROOVE-dev/relayprobe/pkg/config"
	"github.com/codeGROOVE-dev/relayprobe/pkg/diag"
	"github.com/codeGROOVE-dev/relayprobe/pkg/logger"
)

var version = "dev"

// app carries what every subcommand needs once the root command has run.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	mirror *diag.Mirror
	out    io.Writer
	errOut io.Writer
	in     io.Reader
	// prompt reads a password after printing label.
	prompt func(label string) (string, error)

	configPath string
	keyFile    string
	verbose    bool
	noColor    bool
	login      bool
}

func main() {
	a := &app{out: os.Stdout, errOut: os.Stderr, in: os.Stdin}
	a.prompt = func(label string) (string, error) { return promptPassword(a.errOut, label) }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd(a).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relayprobe",
		Short: "Diagnostic client for Nostr relays",
		Long: `relayprobe opens one WebSocket connection to a Nostr relay, sends the
frames you ask for, and shows everything the relay says back.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/relayprobe/config.yaml)")
	flags.StringVar(&a.keyFile, "key-file", "", "encrypted key file used by --login and signing commands")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		dumpCmd(a),
		fetchIDCmd(a),
		fetchKindAuthorCmd(a),
		fetchRelayListCmd(a),
		fetchGiftwrapsCmd(a),
		giftwrapCmd(a),
		postCmd(a),
		postDirCmd(a),
		testRelayCmd(a),
		nip11Cmd(a),
		verifyCmd(a),
		signCmd(a),
		handlerAdvertisementCmd(a),
		bech32Cmd(a),
		encodeCmd(a),
		keygenCmd(a),
	)
	return cmd
}

// setup loads the config, applies flag overrides and installs the logger and
// frame mirror.
func (a *app) setup() error {
	path := a.configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.keyFile != "" {
		cfg.KeyFile = a.keyFile
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	if a.noColor || !isTerminal(a.errOut) {
		cfg.Color = false
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.New(a.errOut, level)
	logger.SetDefault(a.logger)
	a.mirror = diag.New(a.errOut, cfg.Color)
	diag.SetDefault(a.mirror)

	a.logger.Debug("configuration loaded", "path", path, "key_file", cfg.KeyFile, "color", cfg.Color)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
