package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"story-pipeline-backend/internal/config"
	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/services"
)

func main() {
	app := &cli.App{
		Name:  "pipeline",
		Usage: "run one story through character, scene and delivery stages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "story YAML file (defaults to STORY_PATH)"},
			&cli.StringFlag{Name: "out-dir", Usage: "directory for checkpoints and final payloads (defaults to OUTPUT_DIR)"},
			&cli.StringFlag{Name: "run-id", Usage: "explicit run id"},
			&cli.BoolFlag{Name: "dry-run", Usage: "simulate generation and skip all external writes"},
			&cli.BoolFlag{Name: "skip-delivery", Usage: "keep the payload local"},
			&cli.StringFlag{Name: "provider", Usage: "delivery provider: auto, supabase or storage"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir := c.String("out-dir"); dir != "" {
		cfg.OutputDir = dir
	}

	ctx := c.Context
	service, err := services.NewPipelineService(ctx, cfg, services.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer service.Close()

	result, err := service.Execute(ctx, services.RunOptions{
		RunID:        c.String("run-id"),
		StoryPath:    c.String("input"),
		DryRun:       c.Bool("dry-run"),
		SkipDelivery: c.Bool("skip-delivery"),
		Provider:     c.String("provider"),
	})
	if err != nil {
		return err
	}

	summary := models.SummarizeRun(result.Payload, result.OutputPath)
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if summary.Status == models.RunStatusFailed {
		return cli.Exit("run failed", 2)
	}
	return nil
}
