// Package main is the entry point for the bot fleet supervisor and its
// worker processes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/lead-fleet/internal/auth"
	"github.com/capitalize-ai/lead-fleet/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleetd",
		Short: "Lead-capture bot fleet",
		Long: `fleetd runs a fleet of lead-capture chat bots.

The serve command starts the supervisor, the operator API and the
scheduler. Each enabled bot runs in its own worker process, started by
the supervisor with the worker command.`,
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.Load())
		},
	}

	workerCmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one bot worker on stdin/stdout (started by serve)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), config.Load())
		},
	}

	var ttl time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token [email]",
		Short: "Mint an identity token for an operator or admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if ttl <= 0 {
				ttl = cfg.JWTExpiration
			}
			token, err := auth.NewIssuer(cfg.JWTSecret, ttl).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRATION)")

	rootCmd.AddCommand(serveCmd, workerCmd, tokenCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
