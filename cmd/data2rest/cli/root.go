package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data2rest",
		Short: "Expose relational databases as secured REST APIs",
		Long: `data2rest connects to your SQL databases and serves their tables as
filterable, paginated REST resources, guarded by per-key table permissions,
rate limits, and response caching.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./data2rest.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the control store (default: ~/.data2rest)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newMaintenanceCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("data2rest")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.data2rest")
	}

	viper.SetEnvPrefix("DATA2REST")
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}
