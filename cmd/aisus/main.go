package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AgN1ke/aisus/internal/agent"
	"github.com/AgN1ke/aisus/internal/config"
	"github.com/AgN1ke/aisus/internal/gateway"
	"github.com/AgN1ke/aisus/internal/llm"
	"github.com/AgN1ke/aisus/internal/memory"
	"github.com/AgN1ke/aisus/internal/store"
	"github.com/AgN1ke/aisus/internal/tokens"
	"github.com/AgN1ke/aisus/internal/tools"
)

// localChatID is the reserved chat id for the terminal REPL, so its history
// shares the same memory machinery as real channels.
const localChatID int64 = 0

func main() {
	rootCmd := &cobra.Command{
		Use:   "aisus",
		Short: "AI assistant with layered conversation memory",
		Long:  "aisus is a chat assistant for Telegram and the terminal that keeps unbounded history inside fixed token budgets.",
	}

	rootCmd.AddCommand(gatewayCmd(), chatCmd(), onboardCmd(), statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the bot gateway (channels + memory + agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Provider.APIKey == "" {
				return fmt.Errorf("no API key configured; run 'aisus onboard' or set AISUS_API_KEY")
			}

			g, err := gateway.New(cfg, gateway.Options{})
			if err != nil {
				return err
			}
			return g.Run(context.Background())
		},
	}
}

// ChatOptions carries the REPL's IO streams (injectable for testing).
type ChatOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Provider.APIKey == "" {
				return fmt.Errorf("no API key configured; run 'aisus onboard' or set AISUS_API_KEY")
			}
			return runChat(cfg, ChatOptions{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr})
		},
	}
}

func runChat(cfg *config.Config, opts ChatOptions) error {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	counter := tokens.NewCounter()
	client := llm.NewClient(cfg)
	summarizer := memory.NewSummarizer(client, counter, cfg.MemoryModel())
	mem := memory.NewManager(memory.Config{
		RecentBudget:    cfg.Memory.RecentBudget,
		LongBudget:      cfg.Memory.LongBudget,
		CompressPortion: cfg.Memory.CompressPortion,
		Model:           cfg.MemoryModel(),
	}, st, st, summarizer, counter)

	registry := tools.NewRegistry(
		tools.NewWebSearchTool(cfg.Tools.BraveAPIKey, st, time.Duration(cfg.Tools.SearchCacheTTLSec)*time.Second),
		tools.NewFetchPageTool(st, time.Duration(cfg.Tools.PageCacheTTLSec)*time.Second),
	)
	runner := agent.NewRunner(client, registry, cfg.Agent.MaxToolSteps)

	fmt.Fprintln(opts.Stdout, "aisus chat. Type 'exit' to quit, /think <question> for web research.")

	ctx := context.Background()
	scanner := bufio.NewScanner(opts.Stdin)
	for {
		fmt.Fprint(opts.Stdout, "> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		useAgent := agent.ShouldUseAgent(input)
		query := agent.StripTrigger(input)

		if err := mem.AppendMessage(ctx, localChatID, "user", query); err != nil {
			fmt.Fprintln(opts.Stderr, "Error:", err)
			continue
		}
		if err := mem.EnsureBudget(ctx, localChatID); err != nil {
			log.Printf("[chat] ensure budget: %v", err)
		}

		msgs, err := mem.SelectContext(ctx, localChatID, query, cfg.Agent.SystemPrompt)
		if err != nil {
			fmt.Fprintln(opts.Stderr, "Error:", err)
			continue
		}
		llmMsgs := make([]llm.Message, 0, len(msgs))
		for _, m := range msgs {
			llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
		}

		var reply string
		if useAgent {
			reply, err = runner.Run(ctx, llmMsgs)
		} else {
			reply, err = runner.RunSimple(ctx, llmMsgs)
		}
		if err != nil {
			fmt.Fprintln(opts.Stderr, "Error:", err)
			continue
		}

		fmt.Fprintln(opts.Stdout, reply)

		if err := mem.AppendMessage(ctx, localChatID, "assistant", reply); err != nil {
			log.Printf("[chat] record reply: %v", err)
		}
		if err := mem.EnsureBudget(ctx, localChatID); err != nil {
			log.Printf("[chat] ensure budget: %v", err)
		}
	}
	return scanner.Err()
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Create the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				return nil
			}

			if err := config.SaveConfig(config.DefaultConfig()); err != nil {
				return err
			}

			fmt.Printf("Created %s\n\n", path)
			fmt.Println("Next steps:")
			fmt.Println("  1. Put your API key in provider.apiKey (or set AISUS_API_KEY)")
			fmt.Println("  2. Add your Telegram bot token under channels.telegram (or set AISUS_TELEGRAM_TOKEN)")
			fmt.Println("  3. Run 'aisus gateway' to start the bot, or 'aisus chat' for the terminal")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and memory state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Config:    %s\n", config.ConfigPath())
			fmt.Printf("Model:     %s\n", cfg.Agent.Model)
			fmt.Printf("API key:   %s\n", maskKey(cfg.Provider.APIKey))
			fmt.Printf("Telegram:  %s\n", onOff(cfg.Channels.Telegram.Enabled))
			fmt.Printf("Voice:     %s\n", onOff(cfg.Voice.Enabled))
			fmt.Printf("Budgets:   recent %d / long %d tokens\n", cfg.Memory.RecentBudget, cfg.Memory.LongBudget)

			dbPath := cfg.DBPath()
			if _, err := os.Stat(dbPath); err != nil {
				fmt.Printf("Memory DB: %s (not created yet)\n", dbPath)
				return nil
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := context.Background()
			chatIDs, err := st.ListRecentChatIDs(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Memory DB: %s, %d active chat(s)\n", dbPath, len(chatIDs))
			for _, chatID := range chatIDs {
				recentRows, recentTokens, err := st.RecentStats(ctx, chatID)
				if err != nil {
					return err
				}
				longRows, longTokens, err := st.LongStats(ctx, chatID)
				if err != nil {
					return err
				}
				fmt.Printf("  chat %d: recent %d msg / %d tok, long %d memo / %d tok\n",
					chatID, recentRows, recentTokens, longRows, longTokens)
			}
			return nil
		},
	}
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
