package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/persistence"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect stored sessions",
	}
	cmd.AddCommand(newSessionListCmd(), newSessionShowCmd())
	return cmd
}

// withStore opens the database for read-only inspection commands.
func withStore(fn func(store *persistence.SQLiteConversationStore) error) error {
	db, err := persistence.Open(globalCfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := persistence.NewSQLiteConversationStore(db)
	if err != nil {
		return err
	}
	return fn(store)
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *persistence.SQLiteConversationStore) error {
				summaries, err := store.ListSessions(cmd.Context())
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
					return nil
				}
				for _, s := range summaries {
					fmt.Fprintf(cmd.OutOrStdout(), "%s · %s · mode=%s · status=%s · messages=%d · started=%s\n",
						s.ID, s.Topic, s.Mode, s.Status, s.MessageCount, s.StartedAt.Format(time.RFC822))
				}
				return nil
			})
		},
	}
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *persistence.SQLiteConversationStore) error {
				session, ok, err := store.Session(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("session %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s · mode=%s · status=%s\n\n", session.Topic, session.Mode, session.Status)
				history, err := store.Messages(cmd.Context(), session.ID)
				if err != nil {
					return err
				}
				for _, msg := range history {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s (%s)\n%s\n\n",
						msg.Timestamp.Format(time.RFC822), displayRole(msg.Role), msg.Signal, msg.Content)
				}
				return nil
			})
		},
	}
}

func displayRole(role engine.Role) string {
	switch role {
	case engine.RoleHuman:
		return "Moderator"
	case engine.RoleAgentA:
		return "Agent A"
	case engine.RoleAgentB:
		return "Agent B"
	}
	return string(role)
}
