package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"regapi/internal/app"
	"regapi/internal/cli"
	"regapi/internal/config"
)

func main() {
	cfg := config.Load()
	open := func(ctx context.Context) (*app.App, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		// commands print their own output; only warnings go to the log
		log, err := app.NewLogger("warn", false)
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, log)
	}

	if err := cli.NewRootCmd(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
