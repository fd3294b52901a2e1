package main

import (
	"fmt"
	"os"

	"github.com/bitrise-io/go-utils/v2/env"
)

func main() {
	rootCmd := newRootCmd(env.NewRepository())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
