// chatdb-migrate - Recovers message text from macOS chat.db archives.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/lrhodin/chatdb-migrate/pkg/migrate"
	"github.com/lrhodin/chatdb-migrate/pkg/typedstream"
)

var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "chatdb-migrate",
		Usage:   "Extract message text from a macOS Messages database, decoding attributedBody archives, into a normalized SQLite table",
		Version: fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (flags override it)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "run one full migration pass (clear-then-repopulate)",
				Flags:  pipelineFlags(),
				Action: runMigrate,
			},
			{
				Name:   "report",
				Usage:  "decode everything and print coverage without writing to the target",
				Flags:  pipelineFlags(),
				Action: runReport,
			},
			{
				Name:   "watch",
				Usage:  "migrate, then re-run whenever chat.db changes",
				Flags:  pipelineFlags(),
				Action: runWatch,
			},
			{
				Name:      "decode",
				Usage:     "decode a single attributedBody blob from a file (fixture triage)",
				ArgsUsage: "<blob-file>",
				Action:    runDecode,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "source",
			Usage: "path to chat.db (default: ~/Library/Messages/chat.db)",
		},
		&cli.StringFlag{
			Name:  "target",
			Usage: "path to the output SQLite database",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "rows per insert transaction",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "max source rows to read (0 = all)",
		},
	}
}

func makeLogger(c *cli.Context) zerolog.Logger {
	level := zerolog.InfoLevel
	if c.Bool("debug") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.StampMilli,
	}).With().Timestamp().Logger().Level(level)
}

// loadConfig merges the optional config file with command-line flags;
// flags win.
func loadConfig(c *cli.Context, requireTarget bool) (*migrate.Config, error) {
	cfg := &migrate.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := migrate.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if v := c.String("source"); v != "" {
		cfg.SourcePath = v
	}
	if v := c.String("target"); v != "" {
		cfg.TargetPath = v
	}
	if v := c.Int("batch-size"); v > 0 {
		cfg.BatchSize = v
	}
	if v := c.Int("limit"); v > 0 {
		cfg.Limit = v
	}
	if requireTarget && cfg.TargetPath == "" {
		return nil, fmt.Errorf("no target database: pass --target or set target_path in the config")
	}
	return cfg, nil
}

func buildOrchestrator(cfg *migrate.Config, log zerolog.Logger, dryRun bool) (*migrate.Orchestrator, func(), error) {
	source, err := migrate.OpenSource(cfg.GetSourcePath())
	if err != nil {
		return nil, nil, err
	}

	var target *migrate.TargetDB
	cleanup := func() { source.Close() }
	if !dryRun {
		target, err = migrate.OpenTarget(cfg.TargetPath, log)
		if err != nil {
			source.Close()
			return nil, nil, err
		}
		cleanup = func() {
			source.Close()
			target.Close()
		}
	}

	return &migrate.Orchestrator{
		Source:    source,
		Target:    target,
		Log:       log,
		BatchSize: cfg.GetBatchSize(),
		Limit:     cfg.Limit,
		DryRun:    dryRun,
	}, cleanup, nil
}

func runMigrate(c *cli.Context) error {
	log := makeLogger(c)
	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}
	o, cleanup, err := buildOrchestrator(cfg, log, false)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := o.Run(signalContext(log))
	if err != nil {
		return err
	}
	fmt.Println(report)
	return nil
}

func runReport(c *cli.Context) error {
	log := makeLogger(c)
	cfg, err := loadConfig(c, false)
	if err != nil {
		return err
	}
	o, cleanup, err := buildOrchestrator(cfg, log, true)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := o.Run(signalContext(log))
	if err != nil {
		return err
	}
	fmt.Println(report)
	return nil
}

func runWatch(c *cli.Context) error {
	log := makeLogger(c)
	cfg, err := loadConfig(c, true)
	if err != nil {
		return err
	}
	o, cleanup, err := buildOrchestrator(cfg, log, false)
	if err != nil {
		return err
	}
	defer cleanup()

	err = o.Watch(signalContext(log), cfg.GetSourcePath(), cfg.GetWatchDebounce())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runDecode(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: chatdb-migrate decode <blob-file>")
	}
	blob, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}

	outcome := typedstream.Decode(blob)
	for _, att := range outcome.Attempts {
		status := "failed"
		if att.Succeeded {
			status = "succeeded"
		}
		fmt.Fprintf(os.Stderr, "strategy %-18s %s (offset=%d, raw_length=%d)\n",
			att.Strategy, status, att.MatchOffset, att.RawLength)
	}
	if !outcome.Decoded() {
		return fmt.Errorf("undecodable (%d bytes)", len(blob))
	}
	fmt.Printf("source: %s (confidence %.1f)\n", outcome.Source, outcome.Confidence)
	fmt.Println(outcome.Text)
	return nil
}

// signalContext returns a context cancelled by SIGINT/SIGTERM, so a run
// stops cleanly at the next batch boundary.
func signalContext(log zerolog.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		log.Warn().Str("signal", sig.String()).Msg("Shutting down at next batch boundary")
		cancel()
	}()
	return ctx
}
