package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/iamthebestcoderalive/coldfront-guardian/guardian"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the guild config directory and initialize the database",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.Database == "" {
			log.Fatal("Environment variable GUARDIAN_DATABASE not set (must be a sqlite file path)")
		}
		if cfg.ConfigDir == "" {
			log.Fatal("Environment variable GUARDIAN_CONFIG_DIR not set (must be a directory path)")
		}

		out := cmd.OutOrStdout()

		if err := os.MkdirAll(cfg.ConfigDir, 0o755); err != nil {
			log.Fatalf("Error creating config directory: %v", err)
		}
		fmt.Fprintf(out, "Guild config directory ready: %s\n", cfg.ConfigDir)

		db, err := guardian.CreateDB(
			ctx,
			cfg.Database,
			tint.NewHandler(
				os.Stdout, &tint.Options{
					Level:     slog.LevelWarn,
					AddSource: true,
				},
			),
		)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		fmt.Fprintf(out, "Database ready: %s\n", cfg.Database)

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
