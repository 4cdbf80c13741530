package main

import (
	"Marginalia/internal/client"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "threadwalk",
	Short: "Browse and reply to quote-anchored discussions",
	Long: `threadwalk talks to a Marginalia server. It walks the branch of a
discussion picked by the most replied quote at each level, and can create
posts and quote replies.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("server", "s", envOr("MARGINALIA_SERVER", "http://localhost:8080"), "server base url")
	rootCmd.PersistentFlags().StringP("token", "t", os.Getenv("MARGINALIA_TOKEN"), "bearer token for write operations")
	rootCmd.PersistentFlags().Duration("timeout", 15*time.Second, "per request timeout")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log requests and retries")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient(cmd *cobra.Command) (*client.Client, *slog.Logger, error) {
	flags := cmd.Flags()
	server, _ := flags.GetString("server")
	token, _ := flags.GetString("token")
	timeout, _ := flags.GetDuration("timeout")
	verbose, _ := flags.GetBool("verbose")

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	c, err := client.New(client.Options{
		BaseURL: server,
		Token:   token,
		Timeout: timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, logger, nil
}
