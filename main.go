package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/streamside-labs/sidepool/app"
	"github.com/streamside-labs/sidepool/config"
)

func main() {
	cliApp := &cli.App{
		Name:  "sidepool",
		Usage: "prediction-round lifecycle and settlement engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "config.yaml",
				Usage: "path to the configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP service",
				Action: runServe,
			},
			{
				Name:  "retry-payouts",
				Usage: "re-attempt the failed payout entries of a round's manifest",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "round-id", Required: true},
				},
				Action: runRetryPayouts,
			},
			{
				Name:  "history",
				Usage: "print recent round history",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 10},
				},
				Action: runHistory,
			},
		},
		DefaultCommand: "serve",
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func buildApp(c *cli.Context) (*app.App, *slog.Logger, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	application, err := app.New(c.Context, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize app: %w", err)
	}
	return application, logger, nil
}

func runServe(c *cli.Context) error {
	application, logger, err := buildApp(c)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		return err
	}
	logger.Info("application shut down gracefully")
	return nil
}

func runRetryPayouts(c *cli.Context) error {
	application, _, err := buildApp(c)
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Engine.RetryPayouts(context.Background(), c.String("round-id"))
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runHistory(c *cli.Context) error {
	application, _, err := buildApp(c)
	if err != nil {
		return err
	}
	defer application.Close()

	records, err := application.History.List(context.Background(), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(records)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
