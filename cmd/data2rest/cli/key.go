package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke, and grant permissions to the API keys that authenticate against the data API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyPermissionsCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		label      string
		rateLimit  int
		rateWindow int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  data2rest key create --label "CI pipeline"
  data2rest key create --label mobile --rate-limit 5000 --rate-window 3600`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(label, rateLimit, rateWindow)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests allowed per window (0 = server default)")
	cmd.Flags().IntVar(&rateWindow, "rate-window", 0, "Rate window length in seconds (0 = server default)")

	return cmd
}

func runKeyCreate(label string, rateLimit, rateWindow int) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Errorf("generate random key: %w", err)
	}
	rawKey := "d2r_" + hex.EncodeToString(randomBytes)

	apiKey := &model.APIKey{
		KeyHash:    config.HashAPIKey(rawKey),
		KeyPrefix:  rawKey[:12], // "d2r_" + first 8 hex chars
		Label:      label,
		IsActive:   true,
		RateLimit:  rateLimit,
		RateWindow: rateWindow,
	}

	if err := store.CreateAPIKey(ctx, apiKey); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:   %s\n", rawKey)
	if label != "" {
		fmt.Printf("  Label: %s\n", label)
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	fmt.Println("  Grant access with: data2rest key permissions grant " + apiKey.KeyPrefix + " --database <name>")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		Prefix string `json:"prefix"`
		Label  string `json:"label"`
		Limit  int    `json:"rate_limit"`
		Active bool   `json:"active"`
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			Prefix: k.KeyPrefix,
			Label:  k.Label,
			Limit:  k.RateLimit,
			Active: k.IsActive,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys configured. Use 'data2rest key create' to create one.")
		return nil
	}

	fmt.Printf("%-16s %-24s %-12s %-8s\n", "PREFIX", "LABEL", "RATE LIMIT", "ACTIVE")
	fmt.Printf("%-16s %-24s %-12s %-8s\n", "------", "-----", "----------", "------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		limit := "default"
		if k.Limit > 0 {
			limit = fmt.Sprintf("%d", k.Limit)
		}
		fmt.Printf("%-16s %-24s %-12s %-8s\n", k.Prefix, k.Label, limit, active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(prefix string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	key, err := findKeyByPrefix(ctx, store, prefix)
	if err != nil {
		return err
	}

	if err := store.RevokeAPIKey(ctx, key.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", key.KeyPrefix)
	return nil
}

// ---------- key permissions ----------

func newKeyPermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Manage per-key access grants",
		Long:  "Grant, list, and revoke per-database (and per-table) access rows for an API key.",
	}

	cmd.AddCommand(newKeyPermissionsGrantCmd())
	cmd.AddCommand(newKeyPermissionsListCmd())

	return cmd
}

func newKeyPermissionsGrantCmd() *cobra.Command {
	var (
		database   string
		table      string
		read       bool
		create     bool
		update     bool
		deleteOp   bool
		allowedIPs string
	)

	cmd := &cobra.Command{
		Use:   "grant <prefix>",
		Short: "Grant a key access to a database or table",
		Long: `Write an access row for the key. Without --table the row is the database
wildcard; a table-specific row always takes precedence over the wildcard.`,
		Example: `  data2rest key permissions grant d2r_ab12cd34 --database mydb --read
  data2rest key permissions grant d2r_ab12cd34 --database mydb --table orders --read --create --update
  data2rest key permissions grant d2r_ab12cd34 --database mydb --read --allowed-ips "10.0.0.0/8,203.0.113.9"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyPermissionsGrant(args[0], database, table, read, create, update, deleteOp, allowedIPs)
		},
	}

	cmd.Flags().StringVar(&database, "database", "", "Database name the grant applies to (required)")
	cmd.Flags().StringVar(&table, "table", "", "Restrict the grant to one table (default: database wildcard)")
	cmd.Flags().BoolVar(&read, "read", false, "Allow reading records")
	cmd.Flags().BoolVar(&create, "create", false, "Allow creating records")
	cmd.Flags().BoolVar(&update, "update", false, "Allow updating records")
	cmd.Flags().BoolVar(&deleteOp, "delete", false, "Allow deleting records")
	cmd.Flags().StringVar(&allowedIPs, "allowed-ips", "", "CSV of IPs and CIDR ranges the key may call from")
	cmd.MarkFlagRequired("database")

	return cmd
}

func runKeyPermissionsGrant(prefix, database, table string, read, create, update, deleteOp bool, allowedIPs string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	key, err := findKeyByPrefix(ctx, store, prefix)
	if err != nil {
		return err
	}

	rec, err := store.GetDatabaseByName(ctx, database)
	if err != nil {
		return fmt.Errorf("look up database %q: %w", database, err)
	}

	perm := &model.APIKeyPermission{
		APIKeyID:   key.ID,
		DatabaseID: rec.ID,
		CanRead:    read,
		CanCreate:  create,
		CanUpdate:  update,
		CanDelete:  deleteOp,
	}
	if table != "" {
		perm.TableName = &table
	}
	if allowedIPs != "" {
		perm.AllowedIPs = &allowedIPs
	}

	if err := store.SetPermission(ctx, perm); err != nil {
		return fmt.Errorf("set permission: %w", err)
	}

	scope := "all tables"
	if table != "" {
		scope = "table " + table
	}
	fmt.Printf("Granted key %s access to %s of database %q\n", key.KeyPrefix, scope, database)
	return nil
}

func newKeyPermissionsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list <prefix>",
		Aliases: []string{"ls"},
		Short:   "List a key's access grants",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyPermissionsList(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyPermissionsList(prefix string, jsonOutput bool) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	key, err := findKeyByPrefix(ctx, store, prefix)
	if err != nil {
		return err
	}

	perms, err := store.ListPermissions(ctx, key.ID)
	if err != nil {
		return fmt.Errorf("list permissions: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(perms)
	}

	if len(perms) == 0 {
		fmt.Printf("Key %s has no access grants.\n", key.KeyPrefix)
		return nil
	}

	fmt.Printf("%-6s %-10s %-20s %-16s %s\n", "ID", "DATABASE", "TABLE", "ACTIONS", "ALLOWED IPS")
	for _, p := range perms {
		table := "*"
		if p.TableName != nil {
			table = *p.TableName
		}
		actions := permissionActions(p)
		ips := ""
		if p.AllowedIPs != nil {
			ips = *p.AllowedIPs
		}
		fmt.Printf("%-6d %-10d %-20s %-16s %s\n", p.ID, p.DatabaseID, table, actions, ips)
	}

	return nil
}

func permissionActions(p model.APIKeyPermission) string {
	var actions []string
	if p.CanRead {
		actions = append(actions, "read")
	}
	if p.CanCreate {
		actions = append(actions, "create")
	}
	if p.CanUpdate {
		actions = append(actions, "update")
	}
	if p.CanDelete {
		actions = append(actions, "delete")
	}
	if len(actions) == 0 {
		return "none"
	}
	return strings.Join(actions, ",")
}

// findKeyByPrefix resolves an API key by prefix, accepting a shortened form.
func findKeyByPrefix(ctx context.Context, store *config.Store, prefix string) (*model.APIKey, error) {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, prefix) {
			return &keys[i], nil
		}
	}
	return nil, fmt.Errorf("no API key found with prefix %q", prefix)
}
