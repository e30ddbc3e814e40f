package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/corbin-hayes/coderelay/internal/command"
	"github.com/corbin-hayes/coderelay/internal/config"
	"github.com/corbin-hayes/coderelay/internal/gateway"
	"github.com/corbin-hayes/coderelay/internal/gateway/discord"
	"github.com/corbin-hayes/coderelay/internal/gateway/slack"
	"github.com/corbin-hayes/coderelay/internal/history"
	"github.com/corbin-hayes/coderelay/internal/piston"
	"github.com/corbin-hayes/coderelay/internal/relay"
	"github.com/corbin-hayes/coderelay/internal/status"
	"github.com/corbin-hayes/coderelay/internal/updater"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay bot",
		Long:  "Connects to the chat platform and the execution backend and serves run requests until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "coderelay.yaml", "path to config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	histStore, err := history.Open(cfg.History)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}

	pistonClient, err := piston.NewClient(piston.ClientOpts{
		URL:     cfg.Piston.URL,
		LogURL:  cfg.Piston.LogURL,
		Key:     cfg.Piston.Key,
		Timeout: time.Duration(cfg.Piston.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	aliases, err := piston.LoadAliases(ctx, pistonClient, cfg.Piston.VersionPins, cfg.Piston.ExtraAliases)
	if err != nil {
		return fmt.Errorf("load language aliases: %w", err)
	}
	log.Printf("main: %d languages available", aliases.Len())

	parser, err := command.NewParser(command.ParserOpts{
		Aliases:       aliases,
		AttachmentCap: cfg.Piston.AttachmentCap,
	})
	if err != nil {
		return err
	}

	adapter, err := newAdapter(cfg)
	if err != nil {
		return err
	}

	errlog := relay.NewErrorLog(relay.ErrorLogOpts{
		MaxRecords: cfg.ErrorLog.MaxRecords,
		OnChange: func(degraded bool) {
			pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := adapter.SetPresence(pctx, degraded); err != nil {
				log.Printf("main: set presence: %v", err)
			}
		},
	})

	var checker *updater.Checker
	if cfg.Update.Owner != "" && cfg.Update.Repo != "" {
		checker, err = updater.NewChecker(updater.CheckerOpts{
			Owner: cfg.Update.Owner,
			Repo:  cfg.Update.Repo,
			Token: cfg.Update.Token,
		})
		if err != nil {
			return err
		}
	}

	svc, err := relay.NewService(relay.ServiceOpts{
		Config:   cfg,
		Adapter:  adapter,
		Parser:   parser,
		Piston:   pistonClient,
		Aliases:  aliases,
		ErrorLog: errlog,
		History:  histStore,
		Updater:  checker,
		Commit:   Commit,
	})
	if err != nil {
		return err
	}

	if err := adapter.Connect(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	jobs := cron.New()
	ttl := time.Duration(cfg.ErrorLog.TTLHours) * time.Hour
	jobs.AddFunc("@hourly", func() {
		if removed := errlog.Sweep(ttl); removed > 0 {
			log.Printf("main: swept %d stale error records", removed)
		}
	})
	jobs.AddFunc("@daily", func() {
		n, err := histStore.CountSince(time.Now().Add(-24 * time.Hour))
		if err != nil {
			log.Printf("main: daily digest: %v", err)
			return
		}
		log.Printf("main: %d runs in the last 24h", n)
	})
	jobs.Start()
	defer jobs.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "coderelay %s running on %s\n", Version, cfg.Platform)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	if cfg.Status.Port > 0 {
		g.Go(func() error {
			return status.Start(gctx, status.StartOpts{
				Source:   svc,
				ErrorLog: errlog,
				Port:     cfg.Status.Port,
				Version:  Version,
				Commit:   Commit,
				Out:      out,
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(out, "coderelay stopped")
	return nil
}

func newAdapter(cfg *config.Config) (gateway.Adapter, error) {
	switch cfg.Platform {
	case "discord":
		return discord.New(discord.AdapterOpts{BotToken: cfg.Discord.BotToken})
	case "slack":
		return slack.New(slack.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}
