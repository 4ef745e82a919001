package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

type TickOptions struct {
	Count      int
	Period     time.Duration
	StartFrame uint64
}

type tickResult struct {
	Sent      int     `json:"sent" yaml:"sent"`
	LastFrame uint64  `json:"last_frame" yaml:"last_frame"`
	Period    float64 `json:"period" yaml:"period"`
}

func (r tickResult) Text() string {
	return fmt.Sprintf("sent %d ticks, last frame %d", r.Sent, r.LastFrame)
}

func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TickOptions{}

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Publish simulation ticks at a fixed period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 10, "number of ticks (0 = until interrupted)")
	cmd.Flags().DurationVarP(&opts.Period, "period", "p", 100*time.Millisecond, "time between ticks")
	cmd.Flags().Uint64Var(&opts.StartFrame, "start-frame", 0, "frame number of the first tick")

	return cmd
}

func runTick(cmd *cobra.Command, rootOpts *RootOptions, opts *TickOptions) error {
	if opts.Period <= 0 {
		return NewExitError(ExitCommandError, "--period must be positive")
	}
	if opts.Count < 0 {
		return NewExitError(ExitCommandError, "--count must not be negative")
	}

	ctx := cmd.Context()
	m, err := rootOpts.connect(ctx)
	if err != nil {
		return err
	}
	defer m.Disconnect(context.WithoutCancel(ctx))

	if err := publishers(m, amm.TopicTick); err != nil {
		return WrapExitError(ExitFailure, "failed to register publisher", err)
	}

	out := rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	period := opts.Period.Seconds()
	result := tickResult{Period: period}

	ticker := time.NewTicker(opts.Period)
	defer ticker.Stop()

	for i := 0; opts.Count == 0 || i < opts.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return out.Success(result)
			case <-ticker.C:
			}
		}

		frame := opts.StartFrame + uint64(i)
		tick := amm.Tick{Frame: frame, TimeSeconds: float64(i) * period, Period: period}
		if err := m.Write(ctx, tick); err != nil {
			return WrapExitError(ExitFailure, "failed to publish tick", err)
		}
		result.Sent++
		result.LastFrame = frame
		out.VerboseLog("tick %d", frame)
	}

	return out.Success(result)
}
