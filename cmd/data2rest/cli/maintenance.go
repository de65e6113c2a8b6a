package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/data2rest/data2rest/internal/cache"
	"github.com/data2rest/data2rest/internal/ratelimit"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Housekeeping for the control store and exposed databases",
		Long:  "Prune expired cache entries, drop stale rate-limit counters, and run backend optimize routines.",
	}

	cmd.AddCommand(newMaintenanceCacheCmd())
	cmd.AddCommand(newMaintenanceRatelimitCmd())
	cmd.AddCommand(newMaintenanceOptimizeCmd())

	return cmd
}

// ---------- maintenance cache ----------

func newMaintenanceCacheCmd() *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Prune the response cache",
		Long:  "Remove expired cache entries, or every entry matching a key pattern when --pattern is given.",
		Example: `  data2rest maintenance cache
  data2rest maintenance cache --pattern "db3:orders"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenanceCache(pattern)
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "Invalidate entries whose key contains this pattern")

	return cmd
}

func runMaintenanceCache(pattern string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	responseCache := cache.New(store.DB())

	var removed int64
	if pattern != "" {
		removed, err = responseCache.Invalidate(ctx, pattern)
	} else {
		removed, err = responseCache.ClearExpired(ctx)
	}
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}

	fmt.Printf("Removed %d cache entries\n", removed)
	return nil
}

// ---------- maintenance ratelimit ----------

func newMaintenanceRatelimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Drop rate-limit counters from closed windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenanceRatelimit()
		},
	}

	return cmd
}

func runMaintenanceRatelimit() error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	limiter := ratelimit.New(store.DB())

	removed, err := limiter.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("cleanup rate limits: %w", err)
	}

	fmt.Printf("Removed %d stale rate-limit counters\n", removed)
	return nil
}

// ---------- maintenance optimize ----------

func newMaintenanceOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize <name>",
		Short: "Run the backend's optimize routine for a database",
		Long:  "Run the backend-specific maintenance routine (VACUUM, OPTIMIZE TABLE, statistics refresh) for one database.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenanceOptimize(args[0])
		},
	}

	return cmd
}

func runMaintenanceOptimize(name string) error {
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	rec, err := store.GetDatabaseByName(ctx, name)
	if err != nil {
		return fmt.Errorf("look up database %q: %w", name, err)
	}

	manager := newManager(store)
	defer manager.ClearAllCaches()

	a, err := manager.Get(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	fmt.Printf("Optimizing %q (backend=%s)...\n", name, rec.Backend)
	if err := a.Optimize(ctx); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}

	fmt.Println("Done.")
	return nil
}
