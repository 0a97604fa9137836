package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/trigger"
)

// enqueueContinue drops a continue trigger with the given payload.
func enqueueContinue(cmd *cobra.Command, sessionID, payload string) error {
	queue, err := trigger.NewFileQueue(globalCfg.TriggerDir)
	if err != nil {
		return err
	}
	defer queue.Close()
	t := trigger.Trigger{
		SessionID: sessionID,
		Kind:      trigger.KindContinue,
		Payload:   payload,
	}
	return queue.Enqueue(cmd.Context(), t)
}

// newSayCmd submits a human message to a session.
func newSayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "say [session-id] [message]",
		Short: "Send a moderator message to a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueueContinue(cmd, args[0], strings.Join(args[1:], " "))
		},
	}
}

// newStopCmd requests a stop-with-summary.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [session-id]",
		Short: "Stop a session and request a final summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueueContinue(cmd, args[0], engine.StopMarker)
		},
	}
}

// newAdvanceCmd forces one more turn without new human input.
func newAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance [session-id]",
		Short: "Advance a session by one turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := trigger.NewFileQueue(globalCfg.TriggerDir)
			if err != nil {
				return err
			}
			defer queue.Close()
			t := trigger.Trigger{SessionID: args[0], Kind: trigger.KindAuto}
			return queue.Enqueue(cmd.Context(), t)
		},
	}
}
