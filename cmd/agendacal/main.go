package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"agendacal/internal/agenda"
	"agendacal/internal/config"
	"agendacal/internal/ics"
	"agendacal/internal/ledger"
	appLog "agendacal/internal/log"
	"agendacal/internal/notify"
)

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app := &cli.App{
		Name:  "agendacal",
		Usage: "Aggregate calendar feeds into one agenda and send event reminders.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: config.DefaultPath(),
				Usage: "Path to config file",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			viewCommand(),
			remindCommand(),
			pruneCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		appLog.Error("command failed", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (*config.Config, *agenda.Engine, error) {
	if c.Bool("verbose") {
		appLog.SetLevel(appLog.LevelDebug)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	sources := cfg.Sources()
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no calendars configured in %s", c.String("config"))
	}

	engine := &agenda.Engine{
		Sources:  sources,
		Fetcher:  ics.NewFetcher(cfg.FetchTimeout()),
		Location: loc,
	}
	return cfg, engine, nil
}

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "Show upcoming events for the next N days.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "Day window (defaults to config horizon_days)"},
		},
		Action: func(c *cli.Context) error {
			cfg, engine, err := setup(c)
			if err != nil {
				return err
			}

			days := c.Int("days")
			if !c.IsSet("days") {
				days = cfg.HorizonDays
			}
			if days <= 0 {
				return cli.Exit(fmt.Sprintf("view: --days must be a positive integer, got %d", days), 2)
			}

			res, err := engine.View(c.Context, days)
			if err != nil {
				return err
			}
			for _, f := range res.Failures {
				appLog.Warn("source unavailable, agenda is partial", "source", f.Source, "err", f.Err)
			}
			if len(res.Failures) == len(cfg.Calendars) {
				return fmt.Errorf("all %d sources failed", len(cfg.Calendars))
			}

			fmt.Print(agenda.Render(res, engine.Location))
			return nil
		},
	}
}

func remindCommand() *cli.Command {
	return &cli.Command{
		Name:  "remind",
		Usage: "Notify events starting within the next N minutes.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "minutes", Aliases: []string{"m"}, Usage: "Lead window (defaults to config remind_minutes)"},
			&cli.BoolFlag{Name: "watch", Usage: "Keep running on the configured watch_cron schedule"},
		},
		Action: func(c *cli.Context) error {
			cfg, engine, err := setup(c)
			if err != nil {
				return err
			}

			minutes := c.Int("minutes")
			if !c.IsSet("minutes") {
				minutes = cfg.RemindMinutes
			}
			if minutes <= 0 {
				return cli.Exit(fmt.Sprintf("remind: --minutes must be a positive integer, got %d", minutes), 2)
			}

			path, err := cfg.LedgerFile()
			if err != nil {
				return fmt.Errorf("resolve ledger path: %w", err)
			}
			store, err := ledger.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			sink := &notify.NotifySend{}

			pass := func(ctx context.Context) error {
				res, err := engine.Remind(ctx, minutes, store, sink)
				if err != nil {
					return err
				}
				for _, f := range res.Failures {
					appLog.Warn("source unavailable, reminders are partial", "source", f.Source, "err", f.Err)
				}
				appLog.Info("reminder pass completed", "delivered", len(res.Delivered))
				return nil
			}

			if !c.Bool("watch") {
				return pass(c.Context)
			}

			// Watch mode: one pass now, then on the cron schedule until
			// the root context is cancelled.
			if err := pass(c.Context); err != nil {
				return err
			}
			sched := cron.New()
			_, err = sched.AddFunc(cfg.WatchCron, func() {
				if err := pass(c.Context); err != nil {
					appLog.Error("reminder pass failed", err)
				}
			})
			if err != nil {
				return fmt.Errorf("invalid watch_cron %q: %w", cfg.WatchCron, err)
			}
			appLog.Info("watching for reminders", "schedule", cfg.WatchCron, "minutes", minutes)
			sched.Start()
			<-c.Context.Done()
			<-sched.Stop().Done()
			return nil
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete ledger records for occurrences that ended long ago.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "retention", Value: 30, Usage: "Keep records for occurrences ending within the last N days"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("verbose") {
				appLog.SetLevel(appLog.LevelDebug)
			}
			retention := c.Int("retention")
			if retention <= 0 {
				return cli.Exit(fmt.Sprintf("prune: --retention must be a positive integer, got %d", retention), 2)
			}

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			path, err := cfg.LedgerFile()
			if err != nil {
				return fmt.Errorf("resolve ledger path: %w", err)
			}
			store, err := ledger.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			cutoff := time.Now().AddDate(0, 0, -retention)
			n, err := store.Prune(c.Context, cutoff)
			if err != nil {
				return err
			}
			appLog.Info("ledger pruned", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
			return nil
		},
	}
}
