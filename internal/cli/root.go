// Package cli defines the cobra commands of the terminal chat client.
package cli

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/toidukodu/tehiskokk/internal/client"
	"github.com/toidukodu/tehiskokk/internal/identity"
	"github.com/toidukodu/tehiskokk/internal/logx"
)

var (
	serverURL string
	statePath string
	noHistory bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "chat-cli",
	Short: "Terminal client for the Tehiskokk nutrition assistant",
	Long: `chat-cli talks to a running Tehiskokk server. The session token is kept
in a small state file so the conversation continues across runs.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logx.Setup(logLevel, "text")
		logrus.SetOutput(cmd.ErrOrStderr())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TEHISKOKK_SERVER", "http://localhost:8080"), "Server base URL")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", identity.DefaultStatePath(), "Session state file")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "Do not read or write the server's chat history")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(resetCmd)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func base() string {
	return strings.TrimRight(serverURL, "/")
}

func remoteStore() *client.RemoteStore {
	if noHistory {
		return client.NewRemoteStore("", nil)
	}
	return client.NewRemoteStore(base(), nil)
}

func newConsumer(update func(client.Turn)) *client.Consumer {
	return client.New(base()+"/api/tehiskokk", remoteStore(), identity.NewFileProvider(statePath),
		client.WithHTTPClient(&http.Client{}),
		client.WithOnUpdate(update),
	)
}
