// ABOUTME: init and token commands: write a starter config and mint admin API tokens
// ABOUTME: init generates the JWT secret and saves an admin token next to the config

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bitsacco/sacco-gateway/internal/auth"
	"github.com/bitsacco/sacco-gateway/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config and an admin token",
	Long: `init asks for the config location, HTTP address and database path, then
writes a config that runs against the sandbox wallet with the web chat on.
A fresh JWT secret is generated and an admin token is saved beside the config.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin API token",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

var (
	initYes bool

	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
	tokenSave    bool
)

// adminTokenTTL is the lifetime of the token written by init.
const adminTokenTTL = 30 * 24 * time.Hour

func init() {
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "accept every default without prompting")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "operator name recorded in the audit log")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleViewer), "viewer or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", adminTokenTTL, "token lifetime")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "also write the token to the token file next to the config")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runInit(cmd *cobra.Command, _ []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	ask := func(question, defaultVal string) string {
		if initYes {
			return defaultVal
		}
		return prompt(reader, cmd.OutOrStdout(), question, defaultVal)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "sacco-gateway configuration setup")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out)

	outputFile := ask("Config file path", configPath)
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(ask("File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	httpAddr := ask("HTTP address", "localhost:8080")
	dbPath := ask("SQLite database path", filepath.Join(getDataPath(), "gateway.db"))

	secret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(config.Sample(httpAddr, dbPath, secret)), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// The token file lives next to whichever config was just written.
	configPath = outputFile
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate("admin", auth.RoleAdmin, adminTokenTTL)
	if err != nil {
		return fmt.Errorf("generating admin token: %w", err)
	}
	if err := os.WriteFile(tokenPath(), []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}

	green := color.New(color.FgGreen)
	fmt.Fprintln(out)
	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, "Config written to %s\n", outputFile)
	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, "Admin token written to %s\n", tokenPath())
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Start the gateway with:")
	fmt.Fprintf(out, "  sacco-gateway serve --config %s\n", outputFile)
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set in %s", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(strings.TrimSpace(tokenSubject), auth.Role(tokenRole), tokenTTL)
	if err != nil {
		return err
	}

	if tokenSave {
		if err := os.WriteFile(tokenPath(), []byte(token+"\n"), 0600); err != nil {
			return fmt.Errorf("writing token: %w", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// generateSecret returns 32 random bytes, base64 encoded.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
