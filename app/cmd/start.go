package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/trigger"
)

// newStartCmd enqueues a start trigger for a running `parley serve`.
func newStartCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "start [topic]",
		Short: "Start a new session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := engine.Mode(mode)
			if !m.Valid() {
				return fmt.Errorf("mode must be debate or planning")
			}
			queue, err := trigger.NewFileQueue(globalCfg.TriggerDir)
			if err != nil {
				return err
			}
			defer queue.Close()
			id := engine.NewSessionID()
			t := trigger.Trigger{
				SessionID: id,
				Kind:      trigger.KindStart,
				Payload:   strings.Join(args, " "),
				Mode:      string(m),
			}
			if err := queue.Enqueue(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(engine.ModeDebate), "Session mode (debate or planning)")
	return cmd
}
