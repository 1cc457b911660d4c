package cli

import (
	"github.com/spf13/cobra"
	"github.com/toidukodu/tehiskokk/internal/client"
	"github.com/toidukodu/tehiskokk/internal/identity"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored conversation of the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sid := identity.NewFileProvider(statePath).GetSessionID()
		msgs := remoteStore().GetMessages(cmd.Context(), sid)

		var t client.Transcript
		t.Load(msgs)
		printTranscript(cmd.OutOrStdout(), t.Turns())
		return nil
	},
}
