package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaybot/internal/agent"
	"relaybot/internal/browser"
	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/directory"
	"relaybot/internal/intake"
	"relaybot/internal/kv"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
	"relaybot/internal/security"
	"relaybot/internal/tool"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Slack and start answering",
		Long:  "Connects over Socket Mode (or serves the Events API), then runs the intake pipeline until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, kv.Options{
		Backend:    cfg.Store.Backend,
		RedisURL:   cfg.Store.RedisURL,
		KeyPrefix:  cfg.Store.KeyPrefix,
		SQLitePath: cfg.Store.SQLitePath,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("counter store: %w", err)
	}
	defer store.Close()
	logger.Info("counter store ready", "backend", cfg.Store.Backend)

	ws := channel.NewSlackWorkspace(channel.SlackConfig{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		APIURL:   cfg.Slack.APIURL,
		Logger:   logger,
	})
	ident, err := ws.AuthTest(ctx)
	if err != nil {
		return err
	}
	logger.Info("slack bot connected", "user", ident.User, "user_id", ident.UserID, "team", ident.Team)

	dir := directory.New(ws, logger)
	gate := security.NewAccessGate(security.AccessConfig{
		Channel: cfg.Slack.OptInChannel,
		Source:  ws,
		Logger:  logger,
	})
	if err := gate.Init(ctx); err != nil {
		return fmt.Errorf("access gate: %w", err)
	}
	metrics.AllowedUsers.Set(int64(gate.Size()))

	responder, err := buildResponder(cfg, ws, dir, gate, ident.UserID, logger)
	if err != nil {
		return err
	}

	eventBus := bus.New(cfg.Agent.BusSize, logger)
	pipeline := intake.NewPipeline(intake.PipelineConfig{
		Bus:       eventBus,
		Workspace: ws,
		Directory: dir,
		Gate:      gate,
		Limiter: intake.NewRateLimiter(intake.RateLimiterConfig{
			Store:  store,
			Window: cfg.Limits.RateWindow(),
			Max:    int64(cfg.Limits.RateMax),
		}),
		Quota: intake.NewQuotaTracker(intake.QuotaTrackerConfig{
			Store:     store,
			Threshold: int64(cfg.Limits.QuotaThreshold),
			TTL:       cfg.Limits.QuotaTTL(),
		}),
		Classifier:   intake.NewClassifier(ws, dir, ident.UserID, logger),
		Responder:    responder,
		BotUserID:    ident.UserID,
		NotifyDenied: cfg.Slack.NotifyDenied,
		Concurrency:  cfg.Agent.Concurrency,
		Logger:       logger,
	})

	ingress := channel.NewIngress(eventBus, ident.UserID, logger)
	serverCfg := channel.ServerConfig{Addr: cfg.Server.Addr(), Logger: logger}
	if !cfg.Slack.SocketMode {
		serverCfg.SigningSecret = cfg.Slack.SigningSecret
		serverCfg.Ingress = ingress
	}
	server := channel.NewServer(serverCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pipeline.Run(gctx)
		return nil
	})
	g.Go(func() error {
		kv.RunJanitor(gctx, store, time.Duration(cfg.Store.SweepSeconds)*time.Second, logger)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	if cfg.Slack.SocketMode {
		socket := channel.NewSocketMode(ws, ingress, logger)
		g.Go(func() error {
			return socket.Run(gctx)
		})
	}

	logger.Info("relaybot started. Press Ctrl+C to stop.",
		"toolset", cfg.Agent.Toolset,
		"socket_mode", cfg.Slack.SocketMode,
		"opt_in_channel", gate.Channel(),
		"allowed_users", gate.Size(),
	)

	err = g.Wait()
	eventBus.Close()
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildResponder assembles the agent side: oracle clients, tools, prompts,
// the loop and the history compactor.
func buildResponder(cfg *config.Config, ws *channel.SlackWorkspace, dir *directory.Directory, gate *security.AccessGate, botUserID string, logger *slog.Logger) (*agent.Responder, error) {
	factory := provider.NewFactory(cfg.LLM, logger)
	chat, err := factory.Chat()
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	summariser, err := factory.Summariser()
	if err != nil {
		return nil, fmt.Errorf("summary oracle: %w", err)
	}

	contextBuilder := agent.NewContextBuilder(agent.ContextConfig{
		Workspace:    ws,
		Directory:    dir,
		BotUserID:    botUserID,
		HistoryLimit: cfg.Agent.HistoryLimit,
		Location:     cfg.General.Location(),
		Logger:       logger,
	})

	registry := tool.NewRegistry(cfg.Tools.Timeout(), logger)
	if err := tool.RegisterBuiltins(registry, tool.Deps{
		Workspace: ws,
		Directory: dir,
		Gate:      gate,
		Threads:   contextBuilder,
		Summariser: tool.SummariserConfig{
			Provider:    summariser,
			Temperature: cfg.LLM.SummaryTemperature,
		},
		ExaAPIKey: cfg.Tools.ExaAPIKey,
		ExaURL:    cfg.Tools.ExaURL,
		Renderer:  newRenderer(cfg.Tools, logger),
		Logger:    logger,
	}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	pack, err := agent.LoadPromptPack(cfg.Agent.PromptFile)
	if err != nil {
		return nil, err
	}
	prompts, err := agent.NewPromptBuilder(pack)
	if err != nil {
		return nil, err
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:    chat,
		Tools:       registry,
		Toolset:     tool.Toolset(cfg.Agent.Toolset),
		Filter:      agent.NewToolFilter(cfg.Agent.AllowedTools, cfg.Agent.DeniedTools),
		MaxSteps:    cfg.Agent.MaxSteps,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Throttle:    agent.NewThrottle(cfg.LLM.RateBurst, float64(cfg.LLM.RateLimitPerMinute)),
		Logger:      logger,
	})

	return agent.NewResponder(agent.ResponderConfig{
		Context: contextBuilder,
		Prompts: prompts,
		Compactor: agent.NewCompactor(agent.CompactorConfig{
			Provider:  summariser,
			MaxTokens: cfg.Agent.HistoryTokens,
			Logger:    logger,
		}),
		Loop:   loop,
		Logger: logger,
	}), nil
}

// newRenderer picks the diagram backend; nil disables the diagram tool.
func newRenderer(cfg config.ToolsConfig, logger *slog.Logger) browser.Renderer {
	ink := func() browser.Renderer { return browser.NewInkRenderer(cfg.MermaidInkURL, logger) }
	chrome := func() browser.Renderer {
		return browser.NewChromeRenderer(browser.ChromeConfig{
			ExecPath:  cfg.ChromePath,
			ScriptURL: cfg.MermaidScript,
			Logger:    logger,
		})
	}
	switch cfg.DiagramRenderer {
	case "off":
		return nil
	case "chrome":
		return chrome()
	case "chain":
		return browser.NewChain(logger, chrome(), ink())
	default:
		return ink()
	}
}
