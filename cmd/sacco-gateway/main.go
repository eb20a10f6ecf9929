// ABOUTME: Entry point for sacco-gateway, the Bitsacco SACCO chat banking gateway
// ABOUTME: Cobra commands to serve, write a config, mint admin tokens and query a running gateway

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bitsacco/sacco-gateway/internal/config"
	"github.com/bitsacco/sacco-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___  __ _  ___ ___ ___         __ _  __ _| |_ _____      ____ _ _   _
 / __|/ _' |/ __/ __/ _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 \__ \ (_| | (_| (_| (_) |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |___/\__,_|\___\___\___/       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                |___/                             |___/
`

// configPath is the --config flag shared by every command.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "sacco-gateway",
	Short: "Chat banking gateway for Bitsacco SACCO members",
	Long: `sacco-gateway lets SACCO members check balances, load money and withdraw
from chat: Matrix rooms (and the WhatsApp/Telegram rooms bridged into them),
a browser web chat, or any platform connected through a signed webhook.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file (YAML or .toml)")
	rootCmd.AddCommand(serveCmd, initCmd, tokenCmd, healthCmd, sessionsCmd)
}

// getDataPath returns the path to the sacco data directory.
// Priority: XDG_DATA_HOME/sacco > ~/.local/share/sacco
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "sacco")
}

// tokenPath is where init and token --save store the operator token.
func tokenPath() string {
	return filepath.Join(filepath.Dir(configPath), "token")
}

func main() {
	// Secrets such as BITSACCO_API_KEY usually come from a .env next to the binary.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Wallet:    ")
	if cfg.Wallet.Sandbox {
		yellow.Println("sandbox")
	} else {
		fmt.Println(cfg.Wallet.BaseURL)
	}
	green.Print("    ▶ ")
	fmt.Printf("Assistant: ")
	if cfg.AI.Enabled {
		fmt.Println(cfg.AI.Address)
	} else {
		gray.Println("off")
	}
	if cfg.Frontends.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    %s\n", cfg.Frontends.Matrix.UserID)
	}
	if cfg.Frontends.WebChat.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Web chat:  ws://%s/ws\n", cfg.Server.HTTPAddr)
	}
	for _, ch := range cfg.Frontends.Webhook.Channels {
		if !cfg.Frontends.Webhook.Enabled {
			break
		}
		green.Print("    ▶ ")
		fmt.Printf("Webhook:   %s\n", ch.Name)
	}
	fmt.Println()

	gw, err := gateway.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}
