package main

import (
	"os"

	"github.com/signalnine/memtrace/cmd"
	"github.com/signalnine/memtrace/internal/logging"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		logging.Fatal(os.Stderr, err)
		os.Exit(1)
	}
}
