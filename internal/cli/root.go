// Package cli implements the refbridge command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "refbridge",
	Short: "Git ref service over a changeset repository",
	Long: `refbridge serves a Git-shaped view of branches, tags, special refs and
keep-arounds of changeset repositories. It runs the ref server, manages its
repositories, seeds repository databases and queries refs remotely.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(refsCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 12 characters of an ID
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
