package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/draftpilot/draftpilot/internal/config"
	"github.com/draftpilot/draftpilot/internal/secrets"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "draftctl",
		Short:         "Drive a draftpilot server from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv()
		},
	}
	root.PersistentFlags().String("server", envOr("DRAFTPILOT_URL", "http://localhost:8080"), "draftpilot base URL")
	root.PersistentFlags().String("credential", "", "generator credential sent with each generation request")

	root.AddCommand(newRunCommand())
	root.AddCommand(newDraftCommand())
	root.AddCommand(newSealCommand())
	return root
}

func newSealCommand() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "seal [credential]",
		Short: "Encrypt a generator credential for GENERATOR_CREDENTIAL_ENC",
		Long: `Encrypt a generator credential with SECRETS_KEY. The credential is read
from the argument or, when absent, from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credential := ""
			if len(args) == 1 {
				credential = args[0]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				credential = strings.SplitN(string(raw), "\n", 2)[0]
			}
			credential = strings.TrimSpace(credential)
			if credential == "" {
				return fmt.Errorf("credential is empty")
			}
			if key == "" {
				key = os.Getenv("SECRETS_KEY")
			}
			sealed, err := secrets.Seal(key, credential)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "32-byte or base64 secrets key (default $SECRETS_KEY)")
	return cmd
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
