package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"moebot/internal/config"
	"moebot/internal/memory"
	"moebot/internal/provider"

	"github.com/spf13/cobra"
)

const statusTimeout = 10 * time.Second

type checkCounts struct {
	passed, warned, failed int
}

func (c *checkCounts) pass(check, detail string) {
	printPass(check, detail)
	c.passed++
}

func (c *checkCounts) warn(check, detail string) {
	printWarn(check, detail)
	c.warned++
}

func (c *checkCounts) fail(check, detail string) {
	printFail(check, detail)
	c.failed++
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"doctor"},
		Short:   "Check config, database and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("moebot status v%s\n\n", version)

			var c checkCounts
			if _, err := os.Stat(cfgPath); err != nil {
				c.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'moebot init' to create a default configuration.\n")
				return fmt.Errorf("no config file")
			}
			c.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				c.fail("Config validation", err.Error())
				return summarize(c)
			}
			c.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			checkStore(ctx, cfg.Memory, &c)

			factory := provider.NewFactory(cfg, logger)
			statuses := factory.CheckAll(ctx)
			if len(statuses) == 0 {
				c.fail("Providers", "no providers enabled")
			}
			for _, st := range statuses {
				if st.Err != nil {
					c.fail("Provider: "+st.Name, st.Err.Error())
				} else {
					c.pass("Provider: "+st.Name, "reachable")
				}
			}

			switch {
			case cfg.Discord.Enabled:
				c.pass("Discord", "enabled")
			default:
				c.warn("Discord", "disabled")
			}
			switch {
			case cfg.Telegram.Enabled && len(cfg.Telegram.AllowFrom) == 0:
				c.warn("Telegram", "enabled, no allowFrom list: every user can talk to the bot")
			case cfg.Telegram.Enabled:
				c.pass("Telegram", fmt.Sprintf("enabled, %d allowed user(s)", len(cfg.Telegram.AllowFrom)))
			default:
				c.warn("Telegram", "disabled")
			}

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					c.warn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
				} else {
					c.pass("Metrics", cfg.Metrics.Listen+cfg.Metrics.Endpoint)
				}
			}

			return summarize(c)
		},
	}
}

func checkStore(ctx context.Context, mc config.MemoryConfig, c *checkCounts) {
	store, err := memory.NewSQLiteStore(memory.StoreConfig{Path: mc.DBPath, Logger: logger})
	if err != nil {
		c.fail("Database", err.Error())
		return
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		c.fail("Database", err.Error())
		return
	}
	c.pass("Database", fmt.Sprintf("%s (%d messages in %d channels)", mc.DBPath, st.Messages, st.Channels))
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func summarize(c checkCounts) error {
	fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
	if c.failed > 0 {
		return fmt.Errorf("%d check(s) failed", c.failed)
	}
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
