package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "keepsake",
	Short:         "A private, local memory of your conversations and events",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(
		serveCmd,
		stopCmd,
		statusCmd,
		ingestCmd,
		extractCmd,
		queueCmd,
		reviewCmd,
		signalsCmd,
		feedsCmd,
		profileCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
