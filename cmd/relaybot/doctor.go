package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/kv"
	"relaybot/internal/provider"
	"relaybot/internal/security"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const doctorTimeout = 15 * time.Second

// checkReport tallies doctor results and prints them in color.
type checkReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  %s %-20s %s\n", color.GreenString("[PASS]"), check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  %s %-20s %s\n", color.YellowString("[WARN]"), check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  %s %-20s %s\n", color.RedString("[FAIL]"), check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks against Slack, the oracle and the counter store",
		Long: `Verifies that the configuration validates, the counter store is reachable,
the bot token authenticates, the opt-in channel can be read and an oracle
model answers. Reports pass/warn/fail for each check.`,
		RunE: runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	r := &checkReport{out: cmd.OutOrStdout()}
	fmt.Fprintf(r.out, "%s\n\n", color.New(color.Bold).Sprintf("Relaybot Doctor v%s", version))

	cfg, err := loadConfig()
	if err != nil {
		r.fail("Config", err.Error())
		return r.summary()
	}
	if p := resolveConfigPath(); p != "" {
		r.pass("Config", p)
	} else {
		r.pass("Config", "defaults + environment")
	}

	logger, closeLog, err := newLogger(config.GeneralConfig{LogLevel: "error"})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	store, err := kv.Open(ctx, kv.Options{
		Backend:    cfg.Store.Backend,
		RedisURL:   cfg.Store.RedisURL,
		KeyPrefix:  cfg.Store.KeyPrefix,
		SQLitePath: cfg.Store.SQLitePath,
		Logger:     logger,
	})
	if err != nil {
		r.fail("Counter store", err.Error())
	} else {
		if err := store.Ping(ctx); err != nil {
			r.fail("Counter store", err.Error())
		} else {
			r.pass("Counter store", cfg.Store.Backend)
		}
		store.Close()
	}

	ws := channel.NewSlackWorkspace(channel.SlackConfig{
		BotToken: cfg.Slack.BotToken,
		APIURL:   cfg.Slack.APIURL,
		Logger:   logger,
	})
	ident, err := ws.AuthTest(ctx)
	if err != nil {
		r.fail("Slack auth", err.Error())
	} else {
		r.pass("Slack auth", fmt.Sprintf("%s (%s) in %s", ident.User, ident.UserID, ident.Team))

		gate := security.NewAccessGate(security.AccessConfig{
			Channel: cfg.Slack.OptInChannel,
			Source:  ws,
			Logger:  logger,
		})
		switch err := gate.Init(ctx); {
		case !gate.Enabled():
			r.warn("Opt-in channel", "not configured; everyone can trigger the bot")
		case err != nil:
			r.fail("Opt-in channel", err.Error())
		default:
			r.pass("Opt-in channel", fmt.Sprintf("%s (%d members)", gate.Channel(), gate.Size()))
		}
	}

	factory := provider.NewFactory(cfg.LLM, logger)
	if p := factory.HealthyProvider(ctx); p != nil {
		r.pass("Oracle", p.Name())
	} else {
		r.fail("Oracle", fmt.Sprintf("no configured model reachable at %s", cfg.LLM.APIBase))
	}

	if cfg.Tools.ExaAPIKey == "" {
		r.warn("Web search", "no Exa API key; searchWeb will fail")
	} else {
		r.pass("Web search", "Exa API key set")
	}

	switch cfg.Tools.DiagramRenderer {
	case "off":
		r.warn("Diagrams", "renderer disabled")
	case "chrome", "chain":
		if cfg.Tools.ChromePath != "" {
			if _, err := os.Stat(cfg.Tools.ChromePath); err != nil {
				r.fail("Diagrams", fmt.Sprintf("chrome not found at %s", cfg.Tools.ChromePath))
				break
			}
		}
		r.pass("Diagrams", cfg.Tools.DiagramRenderer)
	default:
		r.pass("Diagrams", "mermaid.ink")
	}

	if !cfg.Slack.SocketMode {
		if err := checkPort(cfg.Server.Addr()); err != nil {
			r.warn("HTTP port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
		} else {
			r.pass("HTTP port", cfg.Server.Addr()+" available")
		}
	}

	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			r.pass("Log file", cfg.General.LogFile)
		}
	}

	return r.summary()
}

func (r *checkReport) summary() error {
	fmt.Fprintf(r.out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned == 0 {
		fmt.Fprintln(r.out, color.GreenString("All checks passed! Relaybot is ready to run."))
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
