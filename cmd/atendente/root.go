package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tbourn/go-atendente/internal/config"
	"github.com/tbourn/go-atendente/internal/sysutil"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	EnvFile  string
	LogLevel string
}

func (f *rootFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
	fs.StringVar(&f.LogLevel, "log-level", "", "overrides LOG_LEVEL (debug,info,warn,error)")
}

// load reads the dotenv file and the configuration. Variables already set
// in the environment win over the file.
func (f *rootFlags) load() (config.Config, error) {
	if f.EnvFile != "" {
		if err := godotenv.Load(f.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", f.EnvFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	return cfg, nil
}

// setupLogging installs the global logger for role.
func setupLogging(cfg config.Config, role string) {
	sysutil.SetupLogger(nil, cfg.LogLevel, cfg.LogPretty, role)
	log.Debug().Str("version", version).Msg("debug logging enabled")
}

func newRootCommand() *cobra.Command {
	f := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "atendente",
		Short: "WhatsApp scheduling assistant",
		Long: `atendente answers WhatsApp messages for a small business: it extracts
the requested service, date and time, asks for whatever is missing, and books
the first free slot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(f),
		newWorkerCommand(f),
		newMigrateCommand(f),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), sysutil.FirstNonEmpty(version, "dev"))
		},
	}
}
