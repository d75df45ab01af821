package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"mediagen/internal/infra"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "overall migration timeout")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [-timeout 2m] up|down|reset|status|version")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	}

	if err := infra.LoadDotEnv(); err != nil {
		exitWithError(err)
	}
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(fmt.Errorf("DATABASE_URL is required"))
	}

	logger := infra.NewLogger("cli").With().Str("cmd", "migrate").Logger()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := infra.Migrate(ctx, dbURL, command, logger); err != nil {
		exitWithError(err)
	}
	logger.Info().Str("command", command).Msg("migrate: done")
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
