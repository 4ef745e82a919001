package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/gateway"
)

type ListenOptions struct {
	Count    int
	Duration time.Duration
}

// Sample is one received payload as printed by listen.
type Sample struct {
	Topic  amm.TopicKind `json:"topic" yaml:"topic"`
	Source string        `json:"source" yaml:"source"`
	ID     string        `json:"id" yaml:"id"`
	Time   time.Time     `json:"time" yaml:"time"`
	Data   interface{}   `json:"data" yaml:"data"`
}

func (s Sample) Text() string {
	data, _ := json.Marshal(s.Data)
	return fmt.Sprintf("%s %-24s %s %s", s.Time.Format(time.RFC3339Nano), s.Topic, s.Source, data)
}

func NewListenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListenOptions{}

	cmd := &cobra.Command{
		Use:   "listen [topics...]",
		Short: "Print samples published on the network",
		Long: "Subscribe to the given topics (all topics when none are given) and print " +
			"every sample until interrupted, --count samples were seen or --duration elapsed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, rootOpts, opts, args)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "stop after this many samples (0 = unlimited)")
	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 0, "stop after this long (0 = until interrupted)")

	return cmd
}

func runListen(cmd *cobra.Command, rootOpts *RootOptions, opts *ListenOptions, args []string) error {
	kinds := amm.AllTopics
	if len(args) > 0 {
		kinds = make([]amm.TopicKind, 0, len(args))
		for _, arg := range args {
			kind, err := amm.ParseTopicKind(arg)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid topic", err)
			}
			kinds = append(kinds, kind)
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	m, err := rootOpts.connect(ctx)
	if err != nil {
		return err
	}
	defer m.Disconnect(context.WithoutCancel(ctx))

	out := rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	var (
		mu   sync.Mutex
		seen int
	)
	for _, kind := range kinds {
		if _, err := m.Initialize(kind); err != nil {
			return WrapExitError(ExitFailure, "failed to initialize topic", err)
		}
		handler := gateway.OnRaw(kind, func(hctx context.Context, data json.RawMessage) {
			sample := Sample{Topic: kind, Time: time.Now()}
			if info, ok := gateway.SampleInfoFromContext(hctx); ok {
				sample.Source = info.Source
				sample.ID = info.ID
				sample.Time = info.Time
			}
			if err := json.Unmarshal(data, &sample.Data); err != nil {
				sample.Data = string(data)
			}

			mu.Lock()
			defer mu.Unlock()
			if opts.Count > 0 && seen >= opts.Count {
				return
			}
			seen++
			_ = out.Stream(sample)
			if opts.Count > 0 && seen >= opts.Count {
				cancel()
			}
		})
		if _, err := m.RegisterSubscriber(handler); err != nil {
			return WrapExitError(ExitFailure, "failed to subscribe", err)
		}
	}
	out.VerboseLog("listening on %v", kinds)

	<-ctx.Done()
	return nil
}
