package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-carrier attempt statistics of a running server",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	addClientFlags(statsCmd)
}

type carrierStatsRow struct {
	Carrier            string     `json:"carrier"`
	TotalAttempts      int        `json:"total_attempts"`
	Failures           int        `json:"failures"`
	LastFailureAt      *time.Time `json:"last_failure_at"`
	SinceLastFailureMs *int64     `json:"since_last_failure_ms"`
}

type statsResponse struct {
	Carriers      []carrierStatsRow `json:"carriers"`
	TotalAttempts int               `json:"total_attempts"`
	Scoring       string            `json:"scoring"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	resp, body, err := serverRequest(cmd, http.MethodGet, "/stats", nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return serverError(resp, body)
	}

	var out statsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	switch outputFormat(cmd) {
	case "json":
		_, err := os.Stdout.Write(body)
		return err
	case "csv":
		return writeCSVStdout([]string{"carrier", "attempts", "failures", "since_last_failure"}, statsRows(out.Carriers))
	default:
		printStatsTable(os.Stdout, out, colorEnabled())
		return nil
	}
}

func statsRows(carriers []carrierStatsRow) [][]string {
	rows := make([][]string, len(carriers))
	for i, c := range carriers {
		rows[i] = []string{c.Carrier, strconv.Itoa(c.TotalAttempts), strconv.Itoa(c.Failures), sinceLastFailure(c)}
	}
	return rows
}

func sinceLastFailure(c carrierStatsRow) string {
	if c.SinceLastFailureMs == nil {
		return "never"
	}
	return (time.Duration(*c.SinceLastFailureMs) * time.Millisecond).Round(time.Second).String()
}

func printStatsTable(w io.Writer, s statsResponse, c bool) {
	if len(s.Carriers) == 0 {
		fmt.Fprintln(w, dim("No attempts recorded yet.", c))
		return
	}
	width := len("CARRIER")
	for _, row := range s.Carriers {
		width = max(width, len(row.Carrier))
	}
	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		bold(fmt.Sprintf("%-*s", width, "CARRIER"), c),
		bold(fmt.Sprintf("%8s", "ATTEMPTS"), c),
		bold(fmt.Sprintf("%8s", "FAILURES"), c),
		bold("LAST FAILURE", c))
	for _, row := range s.Carriers {
		last := sinceLastFailure(row)
		if row.SinceLastFailureMs != nil {
			last = yellow(last+" ago", c)
		}
		fmt.Fprintf(w, "%-*s  %8d  %8d  %s\n", width, row.Carrier, row.TotalAttempts, row.Failures, last)
	}
	fmt.Fprintf(w, "\n%s\n", dim(fmt.Sprintf("%d attempts, scoring: %s", s.TotalAttempts, s.Scoring), c))
}
