package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/KevinKickass/OpenSimModule/internal/storage"
)

type SavesListOptions struct {
	ModuleID  string
	SessionID string
	Limit     int
}

func NewSavesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saves",
		Short: "Inspect recorded save states",
	}
	cmd.AddCommand(newSavesListCommand(rootOpts))
	cmd.AddCommand(newSavesShowCommand(rootOpts))
	return cmd
}

func newSavesListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SavesListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List save states, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.Open(cmd.Context(), rootOpts.Config.SaveState, rootOpts.Logger.Named("storage"))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open save-state store", err)
			}
			defer store.Close()

			states, err := store.ListSaveStates(cmd.Context(), storage.ListFilter{
				ModuleID:  amm.ModuleID(opts.ModuleID),
				SessionID: opts.SessionID,
				Limit:     opts.Limit,
			})
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list save states", err)
			}

			return rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(saveStateTable(states))
		},
	}

	cmd.Flags().StringVarP(&opts.ModuleID, "module", "m", "", "only this module")
	cmd.Flags().StringVarP(&opts.SessionID, "session", "s", "", "only this save session")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", 0, "maximum number of results (0 = store default)")

	return cmd
}

func newSavesShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one save state including its capabilities configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid save state id", err)
			}

			store, err := storage.Open(cmd.Context(), rootOpts.Config.SaveState, rootOpts.Logger.Named("storage"))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open save-state store", err)
			}
			defer store.Close()

			state, err := store.GetSaveState(cmd.Context(), id)
			if errors.Is(err, storage.ErrNotFound) {
				return WrapExitError(ExitFailure, "save state not found", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load save state", err)
			}

			return rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(saveStateDetail(*state))
		},
	}
}

type saveStateRow storage.SaveState

func (s saveStateRow) Text() string {
	return fmt.Sprintf("%s %s %s %q", s.ID, s.SessionID, s.ModuleID, s.Name)
}

type saveStateTable []storage.SaveState

func (t saveStateTable) Text() string {
	if len(t) == 0 {
		return "no save states"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tMODULE\tNAME\tRECORDED")
	for _, s := range t {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.SessionID, s.ModuleID, s.Name, s.RecordedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

type saveStateDetail storage.SaveState

func (s saveStateDetail) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:         %s\n", s.ID)
	fmt.Fprintf(&b, "Session:    %s\n", s.SessionID)
	fmt.Fprintf(&b, "Module:     %s (%s)\n", s.ModuleID, s.Name)
	if s.EducationalEncounter != "" {
		fmt.Fprintf(&b, "Encounter:  %s\n", s.EducationalEncounter)
	}
	fmt.Fprintf(&b, "Timestamp:  %d\n", s.Timestamp)
	fmt.Fprintf(&b, "Recorded:   %s\n", s.RecordedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "\n%s", s.CapabilitiesConfiguration)
	return b.String()
}
