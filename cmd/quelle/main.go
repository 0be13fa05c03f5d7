// Command quelle is the command line client for a quelle server.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the quelle server.
	serverURL string
	// apiKey authenticates requests when the server requires it.
	apiKey string
	// dataset selects the dataset every command works on.
	dataset string
	// timeout bounds connection setup and response headers.
	timeout time.Duration
	// jsonOutput prints machine readable results.
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "quelle",
	Short: "Client for the quelle retrieval and answer service",
	Long: `quelle uploads documents to a quelle server, searches them and asks
questions answered from their content.

Examples:
  # Add documents to the "handbook" dataset
  quelle ingest -d handbook docs/*.md

  # Show the passages most similar to a question
  quelle query -d handbook "how do I rotate credentials"

  # Stream an answer with its sources
  quelle ask -d handbook "how do I rotate credentials"

  # Keep a directory in sync
  quelle watch -d handbook ./docs`,
	SilenceUsage: true,
	Version:      "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("QUELLE_URL", "http://localhost:8080"), "quelle server URL (env QUELLE_URL)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("QUELLE_API_KEY"), "API key (env QUELLE_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&dataset, "dataset", "d", envOr("QUELLE_DATASET", "default"), "dataset name (env QUELLE_DATASET)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "connect and response header timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newAPIClient() *client {
	return newClient(serverURL, apiKey, timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
