// Package cli provides the command-line interface of the wellness memory
// service. This package orchestrates the application lifecycle: configuration
// management via files, environment variables and flags, runtime construction
// with dependency injection, and graceful teardown.
//
// Command Organization:
//
//	wellness-memory stats           backend health, per-tier counts, cache stats
//	wellness-memory seed            seed the semantic knowledge base
//	wellness-memory ask             one-shot context retrieval for debugging
//	wellness-memory import          rebuild the aggregation index from a JSON export
//	wellness-memory clear-session   drop one session's short-term log
//	wellness-memory clear-user      drop a user's short-term, episodic and procedural memory
//
// The service follows 12-factor configuration: every knob defaults sanely,
// WELLNESS_* environment variables override, and a YAML config file and flags
// override that for the backend URL, embedding URL, user and log level only.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AllieRays/redis-wellness/config"
)

// cfgFile holds the path to the configuration file specified via flag.
// When empty, .wellness-memory.yaml is searched in the home and working
// directories.
var cfgFile string

// RootCmd is the base command of the CLI.
var RootCmd = &cobra.Command{
	Use:   "wellness-memory",
	Short: "Multi-tier agent memory over a key-value and vector backend",
	Long: `wellness-memory manages the memory subsystem of the wellness agent:
the short-term conversation log, episodic user facts, the semantic knowledge
base, procedural tool patterns and the workout aggregation index.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.wellness-memory.yaml)")
	RootCmd.PersistentFlags().String("redis-url", "", "backend connection URL")
	RootCmd.PersistentFlags().String("embedding-url", "", "embedding provider endpoint")
	RootCmd.PersistentFlags().String("user", "", "user id for user-scoped commands")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("redis.url", RootCmd.PersistentFlags().Lookup("redis-url"))
	viper.BindPFlag("embedding.url", RootCmd.PersistentFlags().Lookup("embedding-url"))
	viper.BindPFlag("user", RootCmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig initializes the configuration system using Viper: explicit
// --config file, otherwise .wellness-memory.yaml from the home or working
// directory, plus automatic environment variable mapping.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".wellness-memory")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig resolves the effective configuration: compiled-in defaults,
// WELLNESS_* environment overrides, then viper (config file and flags) on
// top.
func loadConfig() config.Config {
	cfg := config.Load()

	if v := viper.GetString("redis.url"); v != "" {
		cfg.Backend.URL = v
	}
	if v := viper.GetString("embedding.url"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := viper.GetString("user"); v != "" {
		cfg.Memory.DefaultUser = v
	}
	if v := viper.GetString("log.level"); v != "" {
		cfg.Service.LogLevel = v
	}
	return cfg
}
