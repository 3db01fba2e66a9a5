package main

import (
	"fmt"
	"os"

	"videojobs/internal/cli"
	"videojobs/internal/platform/config"
)

func main() {
	config.Load()
	if err := cli.NewRootCommand(config.AppConfig).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
