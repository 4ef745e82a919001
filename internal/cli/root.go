package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/config"
	"github.com/KevinKickass/OpenSimModule/internal/gateway/memory"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "text" | "json" | "yaml"
	ConfigPath string

	// Set by the root command before any subcommand runs.
	Config *config.Config
	Logger *zap.Logger

	bus *memory.Bus
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

type Option func(*RootOptions)

// WithBus attaches the memory transport to a shared bus, for tests.
func WithBus(bus *memory.Bus) Option {
	return func(o *RootOptions) {
		o.bus = bus
	}
}

// NewRootCommand creates the root command for simctl.
func NewRootCommand(options ...Option) *cobra.Command {
	opts := &RootOptions{}
	for _, opt := range options {
		opt(opts)
	}

	cmd := &cobra.Command{
		Use:   "simctl",
		Short: "simctl - drive and observe simulation modules",
		Long: "Command line point of control for simulation modules: send control " +
			"commands and ticks, push configurations, watch the network and record save states.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Logger != nil {
				_ = opts.Logger.Sync()
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (defaults and OSM_* environment when empty)")

	// Add subcommands
	cmd.AddCommand(NewListenCommand(opts))
	cmd.AddCommand(NewControlCommand(opts))
	cmd.AddCommand(NewTickCommand(opts))
	cmd.AddCommand(NewConfigureCommand(opts))
	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewSavesCommand(opts))
	cmd.AddCommand(NewAuthCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	o.Config = cfg

	logCfg := config.LogConfig{Level: "warn", Development: true}
	if o.Verbose {
		logCfg.Level = "debug"
	}
	logger, err := logCfg.NewLogger()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	o.Logger = logger
	return nil
}

func (o *RootOptions) formatter(w io.Writer, errW io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    w,
		ErrWriter: errW,
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
