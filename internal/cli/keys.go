// internal/cli/keys.go
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/law-makers/harvest/internal/credential"
	"github.com/law-makers/harvest/internal/extract"
	"github.com/law-makers/harvest/internal/ui"
)

var assumeYes bool

// keysCmd represents the keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage stored API keys",
	Long: `Add, list, and delete API keys stored for harvest.

Keys are stored in your OS keyring, or under ~/.harvest/credentials where
no keyring is available. Stored keys join the keys from the config file
and HARVEST_API_KEYS in the pool.`,
	Example: `  # Store a key (read from stdin when omitted)
  harvest keys add team-a apify_api_XXXX

  # List stored keys
  harvest keys list

  # Show the remaining quota of every pooled key
  harvest keys quota

  # Delete a key
  harvest keys delete team-a`,
}

var keysAddCmd = &cobra.Command{
	Use:   "add <name> [key]",
	Short: "Store an API key under a name",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runKeysAdd,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored API keys",
	Args:  cobra.NoArgs,
	RunE:  runKeysList,
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysDelete,
}

var keysQuotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the remaining quota of every pooled key",
	Args:  cobra.NoArgs,
	RunE:  runKeysQuota,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysAddCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysDeleteCmd)
	keysCmd.AddCommand(keysQuotaCmd)

	keysDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Delete without asking for confirmation")
}

func keyStore(cmd *cobra.Command) (*credential.Store, error) {
	if a := GetAppFromCmd(cmd); a != nil && a.Keys != nil {
		return a.Keys, nil
	}
	return credential.NewStore()
}

func runKeysAdd(cmd *cobra.Command, args []string) error {
	store, err := keyStore(cmd)
	if err != nil {
		return err
	}

	name := args[0]
	var key string
	if len(args) == 2 {
		key = args[1]
	} else {
		fmt.Fprint(cmd.ErrOrStderr(), "API key: ")
		key, err = readLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}

	if err := store.Save(name, key); err != nil {
		return fmt.Errorf("failed to save key: %w", err)
	}

	where := "OS keyring"
	if store.FileBased() {
		where = "file store"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s Key '%s' (%s) saved to the %s.\n\n", ui.Success("✓"), name, credential.Mask(key), where)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	store, err := keyStore(cmd)
	if err != nil {
		return err
	}

	names, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(w, "\nNo stored keys found.")
		fmt.Fprintln(w, "\nAdd one with:")
		fmt.Fprintln(w, "  harvest keys add <name> <key>")
		fmt.Fprintln(w)
		return nil
	}

	fmt.Fprintf(w, "\n🔑 Stored Keys (%d)\n", len(names))
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for i, name := range names {
		sk, err := store.Load(name)
		if err != nil {
			fmt.Fprintf(w, "%d. %s  %s\n", i+1, name, ui.Warn("⚠️  error loading: "+err.Error()))
			continue
		}
		fmt.Fprintf(w, "%d. %s  %s  %s\n", i+1, name, credential.Mask(sk.Key), ui.Dim("added "+sk.AddedAt.Format(time.RFC1123)))
	}
	fmt.Fprintln(w)
	return nil
}

func runKeysDelete(cmd *cobra.Command, args []string) error {
	store, err := keyStore(cmd)
	if err != nil {
		return err
	}
	name := args[0]

	if !assumeYes {
		fmt.Fprintf(cmd.OutOrStdout(), "\n⚠️  Delete key '%s'? [y/N]: ", name)
		confirm, _ := readLine(cmd.InOrStdin())
		if !strings.EqualFold(strings.TrimSpace(confirm), "y") {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	if err := store.Delete(name); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s Key '%s' deleted.\n\n", ui.Success("✓"), name)
	return nil
}

func runKeysQuota(cmd *cobra.Command, args []string) error {
	a := GetAppFromCmd(cmd)
	if a == nil {
		return fmt.Errorf("application not initialized")
	}
	checker, ok := a.Client.(extract.QuotaChecker)
	if !ok {
		return fmt.Errorf("the extraction client cannot report quotas")
	}
	creds := a.Pool.Credentials()
	if len(creds) == 0 {
		return fmt.Errorf("no keys configured")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\n📊 Key Quotas (%d)\n", len(creds))
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	for _, c := range creds {
		ctx, cancel := context.WithTimeout(cmd.Context(), a.Config.HTTPTimeout)
		q, err := checker.Quota(ctx, c)
		cancel()
		if err != nil {
			fmt.Fprintf(w, "%s  %s\n", c.Label(), ui.Error("✗ "+err.Error()))
			continue
		}
		status := ui.Success("available")
		if q.Exhausted() {
			status = ui.Error("exhausted")
		}
		fmt.Fprintf(w, "%s  %.2f / %.2f remaining  %s\n", c.Label(), q.Remaining, q.Limit, status)
	}
	fmt.Fprintln(w)
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
