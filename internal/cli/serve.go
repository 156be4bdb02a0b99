// internal/cli/serve.go
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/law-makers/harvest/internal/app"
	"github.com/law-makers/harvest/internal/server"
)

var quotaInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve runs and progress over HTTP",
	Long: `Starts the HTTP API:

- POST /api/runs starts a batch (add ?async=1 to return immediately)
- GET /api/runs/{runID}/progress reports live progress
- DELETE /api/runs/{runID} cancels a running batch
- GET /api/credentials reports key health
- GET /healthz`,
	Example: `  # Listen on the default address
  harvest serve

  # Production profile on a custom port, refreshing quotas every 10 minutes
  harvest serve --env prod --addr :9090 --quota-interval 10m`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().DurationVar(&quotaInterval, "quota-interval", 0, "Refresh key quotas on this interval (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a := GetAppFromCmd(cmd)
	if a == nil {
		return fmt.Errorf("application not initialized")
	}

	srv := server.New(a.Runner, a.Logger)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return srv.ListenAndServe(ctx, a.Config.ListenAddr)
	})
	if quotaInterval > 0 {
		g.Go(func() error {
			refreshQuotas(ctx, a, quotaInterval)
			return nil
		})
	}

	if !quiet && !jsonOutput {
		fmt.Fprintf(cmd.OutOrStdout(), "\nListening on %s with %d key(s). Press Ctrl+C to stop.\n\n", a.Config.ListenAddr, a.Pool.Size())
	}
	return g.Wait()
}

func refreshQuotas(ctx context.Context, a *app.Application, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Runner.RefreshQuotas(ctx); err != nil {
				a.Logger.Warn().Err(err).Msg("Periodic quota refresh incomplete")
			}
		}
	}
}
