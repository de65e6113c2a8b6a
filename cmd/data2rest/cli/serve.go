package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/data2rest/data2rest/internal/adapter"
	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/server"
	"github.com/data2rest/data2rest/internal/service"
)

const banner = `
     _       _        ___               _
  __| | __ _| |_ __ _|_  )_ _ ___ ____ | |_
 / _' |/ _' |  _/ _' |/ /| '_/ -_|_-<  |  _|
 \__,_|\__,_|\__\__,_/___|_| \___/__/   \__|
`

func newServeCmd() *cobra.Command {
	var (
		port        int
		host        string
		dev         bool
		corsOrigins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the data2rest API server",
		Long:  "Start the HTTP server that exposes REST APIs for all configured databases.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev, corsOrigins)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", []string{"*"}, "Allowed CORS origins")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool, corsOrigins []string) error {
	fmt.Print(banner)
	fmt.Println()

	ctx := context.Background()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// 1. Open the control store (SQLite)
	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("init config store: %w", err)
	}
	defer store.Close()
	logger.Info("config store initialized", "path", resolveDataDir())

	// 2. Adapter registry and connection manager
	manager := newManager(store)
	defer manager.ClearAllCaches()
	logger.Info("adapter registry initialized", "backends", []string{"sqlite", "postgres", "mysql", "mssql"})

	// 3. Databases declared in the config file are upserted into the control
	// store so a fresh install can be fully file-driven.
	if path := viper.ConfigFileUsed(); path != "" {
		yamlCfg, err := config.LoadYAMLConfig(path)
		if err != nil {
			logger.Warn("failed to parse config file", "path", path, "error", err)
		} else {
			syncDeclaredDatabases(ctx, store, manager, yamlCfg.Databases, logger)
		}
	}

	// 4. Auth service
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		jwtSecret = "data2rest-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using development default")
	}
	authSvc := service.NewAuthService(store, jwtSecret)

	// 5. Build the server config from flags and viper overrides
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.CORSOrigins = corsOrigins
	if v := viper.GetInt("ratelimit.requests"); v > 0 {
		srvCfg.RateLimit = v
	}
	if v := viper.GetInt("ratelimit.window_seconds"); v > 0 {
		srvCfg.RateWindow = time.Duration(v) * time.Second
	}
	if v := viper.GetInt("cache.ttl_seconds"); v > 0 {
		srvCfg.CacheTTL = time.Duration(v) * time.Second
	}
	if v := viper.GetInt("bulk.max_batch_size"); v > 0 {
		srvCfg.MaxBatchSize = v
	}

	srv := server.New(srvCfg, store, manager, authSvc, logger)

	databases, err := store.ListDatabases(ctx)
	if err != nil {
		logger.Warn("failed to list databases", "error", err)
	}

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Data API:   http://%s:%d/api/v1/db/{id}/{table}\n", host, port)
	fmt.Printf("→ Admin API:  http://%s:%d/api/v1/system\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Configured databases: %d\n", len(databases))
	fmt.Println()

	return srv.ListenAndServe(ctx)
}

// syncDeclaredDatabases registers config-file databases that the control
// store does not know yet. Existing records win over the file.
func syncDeclaredDatabases(ctx context.Context, store *config.Store, manager *adapter.Manager, declared []config.DatabaseYAML, logger *slog.Logger) {
	for _, d := range declared {
		if d.Name == "" || d.Backend == "" {
			logger.Warn("skipping declared database without name or backend")
			continue
		}
		if _, err := store.GetDatabaseByName(ctx, d.Name); err == nil {
			continue
		}
		project := d.Project
		if project == "" {
			project = "default"
		}
		if _, err := manager.CreateDatabase(ctx, d.Name, d.Backend, d.DSN, project); err != nil {
			logger.Error("failed to register declared database", "name", d.Name, "error", err)
			continue
		}
		logger.Info("registered declared database", "name", d.Name, "backend", d.Backend)
	}
}
