package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toidukodu/tehiskokk/internal/identity"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the current session and start a new conversation",
	Long: `reset drops the local session token. The next chat starts a fresh session;
the old conversation stays on the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := identity.NewFileProvider(statePath)
		p.ClearSession()
		fmt.Fprintf(cmd.OutOrStdout(), "new session: %s\n", p.GetSessionID())
		return nil
	},
}
