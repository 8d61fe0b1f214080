// Command refbridge is the refbridge command-line interface.
package main

import (
	"os"

	"github.com/kilupskalvis/refbridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
