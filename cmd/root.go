package cmd

import (
	"fmt"
	"log"
	"os"

	"Choirbook/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "choirbook",
	Short: "Choirbook is a members-only sheet music and rehearsal recording library.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting Choirbook server...")
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
