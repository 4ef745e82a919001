package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSimModule/internal/recorder"
	"github.com/KevinKickass/OpenSimModule/internal/storage"
)

type RecordOptions struct {
	Duration time.Duration
	Window   time.Duration
	Lead     time.Duration
}

type recordResult struct {
	Recorded int `json:"recorded" yaml:"recorded"`
}

func (r recordResult) Text() string {
	return fmt.Sprintf("recorded %d save states", r.Recorded)
}

func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Store module configurations published after SAVE",
		Long: "Watch for SAVE commands and store every module configuration published " +
			"within the save window in the configured save-state store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().DurationVar(&opts.Window, "window", 0, "save window (defaults to savestate.save_window)")
	cmd.Flags().DurationVar(&opts.Lead, "lead", 0, "hold time for configurations seen before a SAVE (defaults to savestate.save_lead)")

	return cmd
}

func runRecord(cmd *cobra.Command, rootOpts *RootOptions, opts *RecordOptions) error {
	ctx := cmd.Context()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	store, err := storage.Open(ctx, rootOpts.Config.SaveState, rootOpts.Logger.Named("storage"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open save-state store", err)
	}
	defer store.Close()

	window := opts.Window
	if window <= 0 {
		window = rootOpts.Config.SaveState.SaveWindow
	}

	lead := opts.Lead
	if !cmd.Flags().Changed("lead") {
		lead = rootOpts.Config.SaveState.SaveLead
	}

	out := rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	rec := recorder.New(store, window,
		recorder.WithLogger(rootOpts.Logger.Named("recorder")),
		recorder.WithLead(lead),
		recorder.WithOnRecorded(func(state storage.SaveState) {
			_ = out.Stream(saveStateRow(state))
		}))

	m, err := rootOpts.connect(ctx)
	if err != nil {
		return err
	}
	defer m.Disconnect(context.WithoutCancel(ctx))

	if err := rec.Attach(m); err != nil {
		return WrapExitError(ExitFailure, "failed to attach recorder", err)
	}
	rootOpts.Logger.Info("Recording save states", zap.Duration("window", window), zap.Duration("lead", lead))

	<-ctx.Done()
	// Results are printed as they arrive; the summary goes to stderr.
	out.VerboseLog("%s", recordResult{Recorded: rec.Recorded()}.Text())
	return nil
}
