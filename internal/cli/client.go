package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telecomverify/telecom/internal/config"
)

// cliHTTPClient is the shared HTTP client for client commands. The timeout
// covers a full dispatch including the carrier attempt.
var cliHTTPClient = &http.Client{Timeout: 30 * time.Second}

// addClientFlags registers the flags shared by commands that talk to a
// running server.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "Server URL (default from telecom.toml, e.g. http://localhost:5000)")
	cmd.Flags().String("config", "", "Path to telecom.toml config file")
}

// serverURL resolves the server base URL from --url, then the config file.
func serverURL(cmd *cobra.Command) (string, error) {
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		return strings.TrimRight(u, "/"), nil
	}
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return cfg.BaseURL(), nil
}

// serverRequest makes an HTTP request to the telecom server and returns the
// response with its fully read body.
func serverRequest(cmd *cobra.Command, method, path string, body io.Reader) (*http.Response, []byte, error) {
	baseURL, err := serverURL(cmd)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), method, baseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cliHTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to server at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp, respBody, nil
}

// serverError converts a non-2xx response into an error carrying the
// server's message.
func serverError(resp *http.Response, body []byte) error {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Message)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
