package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/opencraw/opencraw/pkg/agent"
	"github.com/opencraw/opencraw/pkg/api"
	"github.com/opencraw/opencraw/pkg/automation"
	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/channels"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/gateway"
	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/security"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "doctor":
		os.Exit(runDoctor(os.Args[2:]))
	case "send":
		os.Exit(runSend(os.Args[2:]))
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `OpenCraw personal assistant gateway

Usage:
  opencraw serve  [--config PATH] [--verbose]
  opencraw doctor [--config PATH]
  opencraw send <channel> <recipient> <message> [--config PATH]
`)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".opencraw", "config.json")
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config file")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	if *verbose {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.LogFilePath(), cfg.Logging.RotationEnabled,
			cfg.Logging.MaxSizeMB, cfg.Logging.MaxAgeDays); err != nil {
			logger.WarnCF("main", "File logging unavailable",
				map[string]interface{}{"error": err.Error()})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus()
	gate := security.NewGate(&cfg.Security)
	loop := agent.NewLoop(cfg, msgBus, gate)

	mgr, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "channel setup error: %v\n", err)
		return 1
	}

	store, err := config.NewStore(*configPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config store error: %v\n", err)
		return 1
	}

	auto := automation.NewEngine(cfg.Automation.Jobs, msgBus)
	gw := gateway.New(cfg, msgBus, gate, loop, mgr)
	apiServer := api.NewServer(store, loop.Sessions(), loop.Skills(),
		msgBus, mgr, auto, cfg.Security.APITokens)

	if err := mgr.StartAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "channel start error: %v\n", err)
		return 1
	}
	go gw.Run(ctx)
	go auto.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	httpSrv := &http.Server{Addr: addr, Handler: apiServer.Router()}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	logger.InfoCF("main", "OpenCraw gateway listening", map[string]interface{}{
		"addr":     addr,
		"channels": strings.Join(mgr.Names(), ","),
		"model":    cfg.Agents.Defaults.Model,
	})

	select {
	case err := <-serveErr:
		fmt.Fprintf(os.Stderr, "listen error: %v\n", err)
		return 1
	case <-ctx.Done():
	}

	logger.InfoC("main", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	mgr.StopAll(shutdownCtx)
	logger.DisableFileLogging()
	return 0
}

type doctorCheck struct {
	name string
	err  error
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config file")
	_ = fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL config: %v\n", err)
		return 1
	}

	checks := []doctorCheck{
		{"config", nil},
		{"workspace", checkWorkspace(cfg)},
		{"providers", checkProviders(cfg)},
	}
	for _, name := range cfg.EnabledChannels() {
		checks = append(checks, doctorCheck{"channel " + name, checkChannel(cfg, name)})
	}

	failed := 0
	for _, c := range checks {
		if c.err != nil {
			fmt.Printf("FAIL %-18s %v\n", c.name, c.err)
			failed++
		} else {
			fmt.Printf("OK   %s\n", c.name)
		}
	}
	if failed > 0 {
		fmt.Printf("\n%d check(s) failed\n", failed)
		return 1
	}
	fmt.Println("\nAll checks passed")
	return 0
}

func checkWorkspace(cfg *config.Config) error {
	ws := cfg.WorkspacePath()
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("workspace %s not writable: %w", ws, err)
	}
	return nil
}

func checkProviders(cfg *config.Config) error {
	if cfg.Providers.OpenAI.APIKey == "" && cfg.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("no provider API key configured")
	}
	return nil
}

func checkChannel(cfg *config.Config, name string) error {
	switch name {
	case "telegram":
		if cfg.Channels.Telegram.Token == "" {
			return fmt.Errorf("token is empty")
		}
	case "discord":
		if cfg.Channels.Discord.Token == "" {
			return fmt.Errorf("token is empty")
		}
	case "imessage":
		db := cfg.Channels.IMessage.SourceDB
		if db == "" {
			return fmt.Errorf("source_db is empty")
		}
		if _, err := os.Stat(db); err != nil {
			return fmt.Errorf("source_db %s: %w", db, err)
		}
	case "slack":
		if cfg.Channels.Slack.BotToken == "" {
			return fmt.Errorf("bot_token is empty")
		}
		if len(cfg.Channels.Slack.Channels) == 0 {
			return fmt.Errorf("no channels configured")
		}
	case "whatsapp":
		if cfg.Channels.WhatsApp.AccessToken == "" || cfg.Channels.WhatsApp.PhoneNumberID == "" {
			return fmt.Errorf("access_token and phone_number_id are required")
		}
	}
	return nil
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config file")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) < 3 {
		fmt.Fprintln(os.Stderr, "usage: opencraw send <channel> <recipient> <message> [--config PATH]")
		return 2
	}
	channel, recipient := rest[0], rest[1]
	message := strings.Join(rest[2:], " ")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	msgBus := bus.NewMessageBus()
	mgr, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "channel setup error: %v\n", err)
		return 1
	}
	ch, ok := mgr.Get(channel)
	if !ok {
		fmt.Fprintf(os.Stderr, "channel %s is not enabled\n", channel)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ch.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start %s: %v\n", channel, err)
		return 1
	}
	defer func() { _ = ch.Stop(context.Background()) }()

	if err := ch.Send(ctx, bus.OutboundMessage{
		Channel:     channel,
		RecipientID: recipient,
		Content:     message,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		return 1
	}
	fmt.Println("sent")
	return 0
}
