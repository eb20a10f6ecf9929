// ABOUTME: health and sessions commands that query a running gateway over HTTP
// ABOUTME: Admin calls authenticate with --token, SACCO_TOKEN or the saved token file

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bitsacco/sacco-gateway/internal/config"
	"github.com/bitsacco/sacco-gateway/internal/gateway"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the gateway is alive and its wallet reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live chat sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var sessionsEndCmd = &cobra.Command{
	Use:   "end <user-id>",
	Short: "Sign a user out and drop their session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsEnd,
}

var apiToken string

func init() {
	sessionsCmd.PersistentFlags().StringVar(&apiToken, "token", "", "admin API token (default $SACCO_TOKEN or the token file)")
	sessionsCmd.AddCommand(sessionsEndCmd)
}

// gatewayURL returns the base URL of the gateway named in the config.
func gatewayURL() (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr, nil
}

// resolveToken picks the token from the flag, the environment, then the token file.
func resolveToken() (string, error) {
	if apiToken != "" {
		return apiToken, nil
	}
	if t := os.Getenv("SACCO_TOKEN"); t != "" {
		return t, nil
	}
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", fmt.Errorf("no token: pass --token, set SACCO_TOKEN or run 'sacco-gateway token --save' (%w)", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// call performs one request and decodes a JSON body into out when it is non-nil.
func call(ctx context.Context, method, endpoint, token string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		// The readiness check reports failures in its normal body.
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	base, err := gatewayURL()
	if err != nil {
		return err
	}
	if _, err := call(cmd.Context(), http.MethodGet, base+"/health", "", nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	var ready gateway.ReadyResponse
	_, err = call(cmd.Context(), http.MethodGet, base+"/health/ready", "", &ready)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sessions:  %d\n", ready.Sessions)
	fmt.Fprintf(out, "Frontends: %s\n", strings.Join(ready.Frontends, ", "))
	fmt.Fprintf(out, "Uptime:    %s\n", ready.Uptime)
	if err != nil {
		color.New(color.FgRed).Fprintf(out, "wallet unavailable: %s\n", ready.Wallet)
		return fmt.Errorf("not ready: %w", err)
	}
	color.New(color.FgGreen).Fprintln(out, "healthy")
	return nil
}

func runSessions(cmd *cobra.Command, _ []string) error {
	base, err := gatewayURL()
	if err != nil {
		return err
	}
	token, err := resolveToken()
	if err != nil {
		return err
	}

	var list gateway.ListSessionsResponse
	if _, err := call(cmd.Context(), http.MethodGet, base+"/api/sessions", token, &list); err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if list.Total == 0 {
		fmt.Fprintln(out, "No live sessions.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tCHANNEL\tSTATE\tIDLE")
	for _, s := range list.Sessions {
		idle := time.Since(s.LastActivity).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.UserID, s.Channel, s.State, idle)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if busy := list.Total - len(list.Sessions); busy > 0 {
		fmt.Fprintf(out, "\n%d more in the middle of a turn\n", busy)
	}
	return nil
}

func runSessionsEnd(cmd *cobra.Command, args []string) error {
	base, err := gatewayURL()
	if err != nil {
		return err
	}
	token, err := resolveToken()
	if err != nil {
		return err
	}

	endpoint := base + "/api/sessions/" + url.PathEscape(args[0])
	if _, err := call(cmd.Context(), http.MethodDelete, endpoint, token, nil); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s ended.\n", args[0])
	return nil
}
