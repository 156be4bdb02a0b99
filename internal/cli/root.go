// internal/cli/root.go
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/law-makers/harvest/internal/app"
	"github.com/law-makers/harvest/internal/config"
)

var (
	verbose    bool
	quiet      bool
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Bulk contact extraction over a pool of API keys",
	Long: `Harvest sends lists of profile URLs to a remote extraction service,
spreading the work over a pool of API keys with bounded concurrency.

Keys that run out of quota are taken out of rotation and the affected
items are retried with the next available key. Results always come
back in input order, one outcome per URL.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it with ctx.
// This is called by main.main(). Cancelling ctx cancels the running command.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n%s %v\n\n", errorPrefix(), err)
	}
	return err
}

func init() {
	// Lazily initialize the application before running commands (avoid starting app for -h/help)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if GetAppFromCmd(cmd) != nil {
			return nil
		}

		cfg, err := config.Load(cmd)
		if err != nil {
			return err
		}
		verbose = cfg.LogLevel == "debug"
		quiet = cfg.LogLevel == "error"
		jsonOutput = cfg.JSONLog

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		// Store app in the current command's context for commands to access
		SetApp(cmd, a)
		return nil
	}

	// Ensure app is closed after command runs
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		a := GetAppFromCmd(cmd)
		if a == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := a.Close(ctx)
		SetApp(cmd, nil)
		return err
	}

	// Register centralized flags
	config.RegisterFlags(rootCmd)

	// Customize help and version flag descriptions
	rootCmd.Flags().BoolP("help", "h", false, "Help for Harvest")
	rootCmd.Flags().Bool("version", false, "Version for Harvest")

	// Disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Set custom help function
	rootCmd.SetHelpFunc(customHelpFunc)
	rootCmd.SetUsageFunc(customUsageFunc)
}
