package cmd

import (
	"log"

	"github.com/iamthebestcoderalive/coldfront-guardian/guardian"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the bot and the status HTTP server",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		g, err := guardian.New(cfg)
		if err != nil {
			log.Fatalf("error creating guardian: %s", err.Error())
		}

		if err = g.Run(ctx); err != nil {
			log.Fatalf("error running guardian: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
