package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SOUQ"

// Execute runs the root command.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "assistantctl",
		Short:         "Listing assistant console",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cobra.OnInitialize(initConfig)

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file path (optional).")
	flags.String("db", "./data/assistant.db", "SQLite database path.")
	flags.String("kb", "", "Knowledge base YAML (embedded catalog when empty).")
	flags.String("user", "console", "User id the drafts belong to.")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error).")
	for _, name := range []string{"config", "db", "kb", "user", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newDraftCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newKBCmd())

	return cmd
}

func initConfig() {
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("llm.timeout", "8s")
	viper.SetDefault("llm.rate_limit.requests", 5)
	viper.SetDefault("llm.rate_limit.window", "1m")
	viper.SetDefault("draft_ttl", "720h")
	viper.SetDefault("publish.timeout", "10s")

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
