// ABOUTME: Maintenance commands for user deletion and window reconciliation
// ABOUTME: delete-user requires --confirm; rebuild re-derives windows from the ledger
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDeleteUserCmd creates the delete-user command
func NewDeleteUserCmd() *cobra.Command {
	var (
		confirm    bool
		keepEvents bool
	)

	cmd := &cobra.Command{
		Use:   "delete-user",
		Short: "Delete the user with all turns and windows",
		Long: `Delete a user and everything stored for them.

Analytics events are deleted too unless --keep-events is set, in which
case a USER_DELETED event is recorded alongside them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				fmt.Fprintf(cmd.OutOrStdout(), "This will delete ALL data of user %q!\n", userID)
				fmt.Fprintln(cmd.OutOrStdout(), "Run with --confirm to proceed")
				return nil
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			stats, err := a.Engine.DeleteUser(cmd.Context(), userID, keepEvents)
			if err != nil {
				return fmt.Errorf("deleting user: %w", err)
			}

			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d turn(s), %d window(s), %d event(s)\n",
					stats.Turns, stats.Windows, stats.Events)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm the deletion")
	cmd.Flags().BoolVar(&keepEvents, "keep-events", false, "Keep analytics events of the user")

	return cmd
}

// NewRebuildCmd creates the rebuild command
func NewRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild <conversation>",
		Short: "Reconcile a conversation's windows with its turns",
		Long: `Recompute the windows of a conversation from its ledger.

Windows whose text no longer matches their turns are replaced and queued
for embedding; windows outside the ledger are removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			report, err := a.Engine.Rebuild(cmd.Context(), userID, args[0])
			if err != nil {
				return fmt.Errorf("rebuilding conversation: %w", err)
			}

			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Unchanged: %d  Replaced: %d  Deleted: %d  Sealed: %d\n",
					report.Unchanged, report.Replaced, report.Deleted, len(report.Build.Sealed))
			}
			return nil
		},
	}
	return cmd
}
