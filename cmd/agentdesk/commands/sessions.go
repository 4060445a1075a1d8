package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentdesk/agentdesk/internal/config"
	"github.com/agentdesk/agentdesk/internal/statedb"
	"github.com/agentdesk/agentdesk/pkg/types"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions and their run status",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	db, err := statedb.Open(paths.StateDBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	states, err := db.ListStates(context.Background())
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tWORKTREE\tSTATUS\tATTENTION")
	for _, st := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.SessionID, st.WorktreeID, st.LastRunStatus, attention(st))
	}
	return w.Flush()
}

// attention renders what, if anything, a session needs from the user.
func attention(st *types.SessionState) string {
	switch {
	case st.WaitingForInput && st.WaitingForInputType == types.WaitingQuestion:
		return "answer question"
	case st.WaitingForInput && st.WaitingForInputType == types.WaitingPlan:
		return "approve plan"
	case st.IsReviewing:
		return "review"
	default:
		return "-"
	}
}
