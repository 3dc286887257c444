package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telecomverify/telecom/internal/verification"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Show the carrier ranking of a running server",
	Long: `Fetch the carrier ranking from a running server. Lower scores are better;
carriers with no attempts are not listed.

Examples:
  telecom rank
  telecom rank --window 15m --output csv`,
	Args: cobra.NoArgs,
	RunE: runRank,
}

func init() {
	addClientFlags(rankCmd)
	rankCmd.Flags().String("window", "", "Only count attempts within this duration (e.g. 5m, 1h)")
}

func runRank(cmd *cobra.Command, _ []string) error {
	path := "/rank"
	if w, _ := cmd.Flags().GetString("window"); w != "" {
		path += "?window=" + url.QueryEscape(w)
	}

	resp, body, err := serverRequest(cmd, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return serverError(resp, body)
	}

	var out struct {
		Rank []verification.RankEntry `json:"rank"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	switch outputFormat(cmd) {
	case "json":
		_, err := os.Stdout.Write(body)
		return err
	case "csv":
		return writeCSVStdout([]string{"position", "carrier", "score"}, rankRows(out.Rank))
	default:
		printRankTable(os.Stdout, out.Rank, colorEnabled())
		return nil
	}
}

func rankRows(rank []verification.RankEntry) [][]string {
	rows := make([][]string, len(rank))
	for i, e := range rank {
		rows[i] = []string{strconv.Itoa(i + 1), e.Carrier, formatScore(e.Score)}
	}
	return rows
}

func printRankTable(w io.Writer, rank []verification.RankEntry, c bool) {
	if len(rank) == 0 {
		fmt.Fprintln(w, dim("No attempts recorded yet.", c))
		return
	}
	width := len("CARRIER")
	for _, e := range rank {
		width = max(width, len(e.Carrier))
	}
	fmt.Fprintf(w, "%s  %s  %s\n", bold(fmt.Sprintf("%-4s", "#"), c),
		bold(fmt.Sprintf("%-*s", width, "CARRIER"), c), bold("SCORE", c))
	for i, e := range rank {
		name := fmt.Sprintf("%-*s", width, e.Carrier)
		if i == 0 {
			name = boldGreen(name, c)
		}
		fmt.Fprintf(w, "%-4d  %s  %s\n", i+1, name, formatScore(e.Score))
	}
}

// formatScore prints integral counts without a fraction and rates with four
// decimals.
func formatScore(s float64) string {
	if s == float64(int64(s)) {
		return strconv.FormatInt(int64(s), 10)
	}
	return strconv.FormatFloat(s, 'f', 4, 64)
}
