package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersion is called from main to inject build-time version info.
func SetVersion(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
}

var rootCmd = &cobra.Command{
	Use:   "telecom",
	Short: "Verification dispatch across telecom carriers",
	Long: `Telecom sends verification codes through a pool of carriers, picks the
carrier for each request with a round-robin or best-performer balancer, and
ranks carriers by their failure history.

Get started with three mock carriers:
  telecom start

Then, from another terminal:
  telecom verify +14155552671
  telecom rank`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadEnvFile,
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format (shorthand for --output json)")
	rootCmd.PersistentFlags().String("output", "table", "Output format: table, json, or csv")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before configuration")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	initHelp()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadEnvFile loads TELECOM_* and provider credentials from an env file.
// Variables already set in the process environment win; a missing file is
// not an error.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	path := ".env"
	if f := cmd.Flag("env-file"); f != nil {
		path = f.Value.String()
	}
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// outputFormat returns the resolved output format from flags.
// --json is a shorthand for --output json.
func outputFormat(cmd *cobra.Command) string {
	jsonFlag, _ := cmd.Flags().GetBool("json")
	if jsonFlag {
		return "json"
	}
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		return "table"
	}
	return out
}

// writeCSV writes rows as CSV to the given writer.
func writeCSV(w io.Writer, cols []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeCSVStdout is a convenience wrapper that writes CSV to os.Stdout.
func writeCSVStdout(cols []string, rows [][]string) error {
	return writeCSV(os.Stdout, cols, rows)
}
