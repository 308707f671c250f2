package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ospreybot/osprey/internal/version"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "osprey",
		Short: "Group-chat assistant bot with LLM routing and web search",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: HTTP webhook server plus long-poll receivers",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info())
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
