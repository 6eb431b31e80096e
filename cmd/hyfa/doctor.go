package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"hyfa/internal/channel"
	"hyfa/internal/config"
	"hyfa/internal/provider"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const doctorCheckTimeout = 10 * time.Second

// doctorReport prints check results and keeps the tally.
type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  %s %-20s %s\n", color.New(color.FgGreen).Sprint("[PASS]"), check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  %s %-20s %s\n", color.New(color.FgYellow).Sprint("[WARN]"), check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  %s %-20s %s\n", color.New(color.FgRed, color.Bold).Sprint("[FAIL]"), check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Hyfa setup",
		Long: `Verifies the configuration, the Slack credentials, the LLM endpoint and
the history backend. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			color.New(color.FgCyan, color.Bold).Printf("Hyfa Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &doctorReport{}

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			// 2. Config loads and validates
			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(context.Background(), doctorCheckTimeout)
			defer cancel()

			// 3. Slack credentials
			switch {
			case cfg.Slack.BotToken == "":
				r.fail("Slack bot token", "missing (slack.botToken or SLACK_BOT_TOKEN)")
			case cfg.Slack.AppToken == "":
				r.fail("Slack app token", "missing (slack.appToken or SLACK_APP_TOKEN), required for Socket Mode")
			default:
				slackGW := channel.NewSlack(channel.SlackConfig{
					BotToken: cfg.Slack.BotToken,
					AppToken: cfg.Slack.AppToken,
					Logger:   logger,
				})
				if resp, err := slackGW.AuthTest(ctx); err != nil {
					r.fail("Slack auth", err.Error())
				} else {
					r.pass("Slack auth", fmt.Sprintf("@%s (%s) in %s", resp.User, resp.UserID, resp.Team))
				}
			}

			// 4. LLM endpoint
			llm := provider.NewOpenAI(provider.OpenAIConfig{
				Endpoint:   cfg.LLM.Endpoint,
				AuthToken:  cfg.LLM.AuthToken,
				Timeout:    doctorCheckTimeout,
				MaxRetries: -1,
				Logger:     logger,
			})
			if err := llm.Healthy(ctx); err != nil {
				r.fail("LLM endpoint", err.Error())
			} else {
				r.pass("LLM endpoint", cfg.LLM.Endpoint)
			}
			if cfg.LLM.AuthToken == "" {
				r.warn("LLM auth token", "not set (llm.authToken or LLM_API_TOKEN)")
			}

			// 5. History backend
			if store, closeStore, err := openHistory(cfg.History, logger); err != nil {
				r.fail("History backend", err.Error())
			} else {
				if _, err := store.Get(ctx, "doctor"); err != nil {
					r.fail("History backend", err.Error())
				} else {
					r.pass("History backend", fmt.Sprintf("%s, %d messages per user", cfg.History.Backend, cfg.History.Size))
				}
				closeStore()
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				addr := net.JoinHostPort(cfg.Metrics.Host, strconv.Itoa(cfg.Metrics.Port))
				if err := checkPort(addr); err != nil {
					r.warn("Metrics port", fmt.Sprintf("%s may be in use: %v", addr, err))
				} else {
					r.pass("Metrics port", addr+" available")
				}
			}

			// 7. Log file
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

func (r *doctorReport) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running Hyfa.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nHyfa should work but consider fixing the warnings.\n")
	} else {
		color.New(color.FgGreen).Printf("\nAll checks passed! Hyfa is ready to run.\n")
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
