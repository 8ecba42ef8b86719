// Package main is a minimal application embedding the host SDK: it
// registers one action and one page, then listens for the dashboard's
// calls until a signal asks it to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	hostsdk "github.com/relaydash/hostsdk"
	"github.com/relaydash/hostsdk/component"
	"github.com/relaydash/hostsdk/internal/buildinfo"
	"github.com/relaydash/hostsdk/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		return
	}

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("starting example host", "sdk", buildinfo.String(), "endpoint", cfg.Endpoint)

	host := hostsdk.New(cfg, logger)
	registerRoutes(host)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := host.Listen(ctx); err != nil && ctx.Err() == nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
	host.Close()
	logger.Info("example host stopped")
}

func registerRoutes(host *hostsdk.Host) {
	routes := host.Routes()

	routes.Add("greet", &hostsdk.Action{
		Name:        "Greet someone",
		Description: "Asks for a name, then says hello to it",
		Handler: func(actx *hostsdk.ActionContext) (any, error) {
			name := component.New[struct{ Placeholder string }, any, string](
				component.InputText,
				"Who should we greet?",
				struct{ Placeholder string }{Placeholder: "Ada Lovelace"},
			)
			if err := actx.IO.RenderComponents(actx.Context, []component.Handle{name}, nil, nil); err != nil {
				return nil, err
			}
			value, err := name.Value()
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Hello, %s!", value), nil
		},
	})

	admin := &hostsdk.Page{Name: "Admin"}
	admin.Add("status", &hostsdk.Action{
		Name: "Show status",
		Handler: func(actx *hostsdk.ActionContext) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	routes.Add("admin", admin)
}
