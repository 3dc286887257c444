package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telecomverify/telecom/internal/cli/ui"
)

var errVerificationFailed = errors.New("verification unsuccessful")

var verifyCmd = &cobra.Command{
	Use:   "verify <number>",
	Short: "Send a verification code through a running server",
	Long: `Ask a running server to send a verification code to a phone number in
international format. The server picks the carrier.

Examples:
  telecom verify +14155552671
  telecom verify "+44 20 7946 0958" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	addClientFlags(verifyCmd)
}

type verifyResult struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at"`
	Error     string     `json:"error"`
	Outcome   string     `json:"outcome"`
	Reason    string     `json:"reason"`
	Carrier   string     `json:"carrier"`
	Channel   string     `json:"channel"`
	AttemptID string     `json:"attempt_id"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	payload, err := json.Marshal(map[string]any{
		"number": args[0],
		"time":   time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	resp, body, err := serverRequest(cmd, http.MethodPost, "/verify", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return serverError(resp, body)
	}

	var res verifyResult
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if outputFormat(cmd) == "json" {
		if _, err := os.Stdout.Write(body); err != nil {
			return err
		}
	} else {
		printVerifyResult(os.Stdout, res, colorEnabled())
	}
	if res.Error != "" {
		return errVerificationFailed
	}
	return nil
}

func printVerifyResult(w io.Writer, res verifyResult, c bool) {
	if res.Error != "" {
		fmt.Fprintf(w, "%s %s via %s (%s)\n",
			ui.StyleError.Render(ui.SymbolCross), res.Error, bold(res.Carrier, c), res.Reason)
		return
	}
	fmt.Fprintf(w, "%s code sent via %s over %s\n",
		ui.StyleSuccess.Render(ui.SymbolCheck), bold(res.Carrier, c), res.Channel)
	if res.Token != "" {
		fmt.Fprintf(w, "  %s %s\n", dim("token:", c), res.Token)
	}
	if res.ExpiresAt != nil {
		fmt.Fprintf(w, "  %s %s\n", dim("expires:", c), res.ExpiresAt.Format(time.RFC3339))
	}
}
