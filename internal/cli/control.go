package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
)

var controlTypes = map[string]amm.ControlType{
	"run":   amm.ControlRun,
	"halt":  amm.ControlHalt,
	"reset": amm.ControlReset,
	"save":  amm.ControlSave,
}

func NewControlCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "control run|halt|reset|save",
		Short:     "Publish a simulation control command",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"run", "halt", "reset", "save"},
		RunE: func(cmd *cobra.Command, args []string) error {
			controlType, ok := controlTypes[strings.ToLower(args[0])]
			if !ok {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("unknown control %q: must be run, halt, reset or save", args[0]))
			}

			control := amm.SimulationControl{Type: controlType, Timestamp: amm.NowMillis()}
			if err := rootOpts.publishOnce(cmd.Context(), control); err != nil {
				return err
			}

			return rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(controlResult(control))
		},
	}
}

type controlResult amm.SimulationControl

func (c controlResult) Text() string {
	return fmt.Sprintf("sent %s at %d", c.Type, c.Timestamp)
}
