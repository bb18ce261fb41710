// Package cli is the feedkeeper command line
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"feedkeeper/internal/core"
)

const (
	Version = "0.4.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "feedkeeper",
		Short: "follow feeds and keep subscriptions in sync",
		Long: fmt.Sprintf(`feedkeeper (v%s)

Polls RSS, Atom and JSON feeds on a per-subscription cadence, keeps
their post history and synchronizes subscriptions between clients.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of feedkeeper",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedkeeper v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Add Commands
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(ImportCmd)
	RootCmd.AddCommand(ExportCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "config"
	RootCmd.PersistentFlags().String(key, "", "path to a YAML config file")
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "", "log level (debug, info, warn, error)")
	key = "db-driver"
	RootCmd.PersistentFlags().String(key, "", "database driver (sqlite, postgres)")
	key = "db-dsn"
	RootCmd.PersistentFlags().String(key, "", "database connection string")
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initConfig loads .env files and binds FEEDKEEPER_* variables
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("feedkeeper")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// loadConfig builds the core config and applies flags that were set
func loadConfig(cmd *cobra.Command) (*core.Config, *core.Logger, error) {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}

	config, err := core.LoadConfig(viper.GetString("config"))
	if err != nil {
		return nil, nil, err
	}
	if v := viper.GetString("log-level"); v != "" {
		config.Log.Level = v
	}
	if v := viper.GetString("db-driver"); v != "" {
		config.Database.Driver = v
	}
	if v := viper.GetString("db-dsn"); v != "" {
		config.Database.DSN = v
	}
	if viper.IsSet("port") {
		config.Server.Port = viper.GetInt("port")
	}
	if v := viper.GetString("host"); v != "" {
		config.Server.Host = v
	}
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	logger := core.NewLoggerWithWriter(cmd.ErrOrStderr(), 0)
	level, _ := core.ParseLevel(config.Log.Level)
	logger.SetLevel(level)
	return config, logger, nil
}
