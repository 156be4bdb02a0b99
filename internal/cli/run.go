// internal/cli/run.go
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/law-makers/harvest/internal/progress"
	"github.com/law-makers/harvest/internal/ui"
	"github.com/law-makers/harvest/internal/utils/output"
	urlutil "github.com/law-makers/harvest/internal/utils/url"
	"github.com/law-makers/harvest/pkg/models"
)

var (
	inputFile string
	runID     string
	outPath   string
	format    string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [url...]",
	Short: "Extract contact data for a list of URLs",
	Long: `Runs one batch through the scheduler. URLs come from arguments, from
a file with one URL per line, or from stdin with --file=-.

Every URL gets exactly one outcome, in input order. Failed items never
abort the batch.`,
	Example: `  # Two profiles with the configured keys
  harvest run https://www.linkedin.com/in/a https://www.linkedin.com/in/b

  # A file of URLs, results saved as CSV
  harvest run --file leads.txt --output results.csv

  # Production profile with an explicit run id
  harvest run --file leads.txt --env prod --run-id weekly-leads`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&inputFile, "file", "f", "", "File with one URL per line (- for stdin)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier used for progress tracking (default: random)")
	runCmd.Flags().IntP("concurrency", "c", 0, "Override the number of concurrent extractions")
	runCmd.Flags().StringVarP(&outPath, "output", "o", "", "File path to save results (.json or .csv)")
	runCmd.Flags().StringVar(&format, "format", "", "Stdout format when --output is not set: json or csv")
}

func runRun(cmd *cobra.Command, args []string) error {
	a := GetAppFromCmd(cmd)
	if a == nil {
		return fmt.Errorf("application not initialized")
	}

	format = strings.ToLower(format)
	if format != "" && format != "json" && format != "csv" {
		return fmt.Errorf("invalid format: %s (must be json or csv)", format)
	}

	inputs, err := collectInputs(cmd.InOrStdin(), args, inputFile)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no URLs given (pass them as arguments or with --file)")
	}

	id := runID
	if id == "" {
		id = uuid.NewString()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	if !quiet && !jsonOutput {
		bar := progressbar.NewOptions(len(inputs),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Extracting"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
		go watchProgress(a.Progress, id, bar, stop, done)
	} else {
		close(done)
	}

	resp, err := a.Runner.Run(cmd.Context(), models.BatchRequest{URLs: inputs, RunID: id})
	close(stop)
	<-done
	if err != nil {
		return err
	}

	if outPath != "" {
		if err := saveOutput(resp, outPath); err != nil {
			return fmt.Errorf("failed to save output: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	switch {
	case outPath == "" && (jsonOutput || format == "json"):
		err = output.WriteJSON(out, resp)
	case outPath == "" && format == "csv":
		err = output.WriteCSV(out, resp)
	case !quiet && !jsonOutput:
		printRun(out, resp, outPath)
	}
	if err != nil {
		return err
	}

	if err := cmd.Context().Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	if s := resp.Summary; s.Total > 0 && s.Successful == 0 {
		return fmt.Errorf("all %d item(s) failed", s.Total)
	}
	return nil
}

// watchProgress polls the progress store the same way an HTTP client
// would and mirrors it onto the bar
func watchProgress(store progress.Store, runID string, bar *progressbar.ProgressBar, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = bar.Set(store.Get(runID).Processed)
		case <-stop:
			_ = bar.Set(store.Get(runID).Processed)
			_ = bar.Finish()
			return
		}
	}
}

func collectInputs(stdin io.Reader, args []string, file string) ([]string, error) {
	inputs := append([]string(nil), args...)

	switch file {
	case "":
	case "-":
		lines, err := urlutil.ReadInputs(stdin)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, lines...)
	default:
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open input file: %w", err)
		}
		defer f.Close()
		lines, err := urlutil.ReadInputs(f)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, lines...)
	}

	return urlutil.Normalize(inputs), nil
}

func saveOutput(resp *models.BatchResponse, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return output.SaveCSV(resp, path)
	case ".json", "":
		return output.SaveJSON(resp, path)
	default:
		return fmt.Errorf("unsupported output extension %q (use .json or .csv)", filepath.Ext(path))
	}
}

func printRun(w io.Writer, resp *models.BatchResponse, savedTo string) {
	s := resp.Summary

	fmt.Fprintf(w, "\n%s %s\n", ui.Bold("Run"), ui.Dim(resp.RunID))
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if savedTo == "" {
		for _, out := range resp.Outcomes {
			if out.Success {
				fmt.Fprintf(w, "%s %s %s\n", ui.Success("✓"), out.Input, ui.Dim(fmt.Sprintf("(%s, %d attempt(s))", out.Credential, out.Attempts)))
				continue
			}
			fmt.Fprintf(w, "%s %s %s\n", ui.Error("✗"), out.Input, ui.Dim(fmt.Sprintf("%s: %s", out.Kind, out.Error)))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total:        %d\n", s.Total)
	fmt.Fprintf(w, "Successful:   %d (%s)\n", s.Successful, ui.Rate(s.Successful, s.Total))
	fmt.Fprintf(w, "Failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "Retries:      %d\n", s.Retries)
	fmt.Fprintf(w, "Keys used:    %d\n", s.CredentialsUsed)
	fmt.Fprintf(w, "Concurrency:  %d\n", s.Concurrency)
	fmt.Fprintf(w, "Duration:     %s\n", (time.Duration(s.DurationMS) * time.Millisecond).Round(time.Millisecond))
	if savedTo != "" {
		fmt.Fprintf(w, "\n%s Results saved to %s\n", ui.Success("✓"), savedTo)
	}
	fmt.Fprintln(w)
}
