package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"commission-reconciliation-service/cmd/reconciler/config"
	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// app holds the state shared by every command of one invocation
type app struct {
	v        *viper.Viper
	cfgFile  string
	envFile  string
	verbose  bool
	progress bool
	log      logger.Logger
}

// NewRootCommand builds the command tree with its own configuration
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Commission statement reconciliation tool",
		Long: `Reconciler matches carrier commission statements against the policy
transactions an agency expects to be paid for, builds balanced statement
batches and keeps an append-only audit trail of every commit, void and
adjustment.

Examples:
  reconciler policies import policies.xlsx
  reconciler match --file statement.csv --mapping acme --date 2024-03-31
  reconciler commit --file statement.csv --mapping acme --date 2024-03-31 --total 1250.00
  reconciler void 7QX2M4A-STMT-20240331 --reason "statement reissued"
  reconciler balances --open`,
		Version:           getVersionString(),
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (optional)")
	flags.StringVar(&a.envFile, "env-file", ".env", "environment file loaded before RECONCILER_* variables are read")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&a.progress, "progress", false, "show progress indicators")
	flags.String("database", "", "path to the SQLite database")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	flags.String("balance-key", "", "balance grouping: policy_date or policy")

	a.v.BindPFlag(config.KeyDatabase, flags.Lookup("database"))
	a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	a.v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
	a.v.BindPFlag(config.KeyBalanceKey, flags.Lookup("balance-key"))

	rootCmd.AddCommand(
		a.newPoliciesCommand(),
		a.newBalancesCommand(),
		a.newMatchCommand(),
		a.newCommitCommand(),
		a.newVoidCommand(),
		a.newAdjustCommand(),
		a.newHistoryCommand(),
		a.newMappingCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	return run(NewRootCommand(), os.Args[1:], os.Stderr)
}

func run(rootCmd *cobra.Command, args []string, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		return NewCLIErrorHandler(stderr, verbose).HandleError(err)
	}
	return 0
}

// initConfig reads the config file, .env and RECONCILER_* variables and
// sets up logging
func (a *app) initConfig(cmd *cobra.Command, args []string) error {
	if err := config.BindEnvironment(a.v, a.envFile); err != nil {
		return err
	}

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", a.cfgFile, err).
				WithSuggestion("check the config file path and syntax")
		}
	}

	logConfig, err := config.CreateLoggerConfig(a.v, a.verbose)
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", logConfig.Output, err)
	}
	logger.SetGlobalLogger(log)
	a.log = log.WithComponent("cli")

	if a.cfgFile != "" {
		a.log.WithField("config", a.v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// openService opens the database and builds the reconciliation service.
// The caller closes the returned store.
func (a *app) openService(ctx context.Context) (*reconciler.Service, store.Store, error) {
	serviceConfig, err := config.CreateServiceConfig(a.v, a.progress)
	if err != nil {
		return nil, nil, err
	}

	path := a.v.GetString(config.KeyDatabase)
	st, err := store.NewSQLiteStore(ctx, path)
	if err != nil {
		return nil, nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeReadFailed, "failed to open database "+path).
			WithSuggestion("check --database or RECONCILER_DATABASE")
	}

	service, err := reconciler.NewService(st, serviceConfig)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	a.log.WithField("database", path).Debug("Database opened")
	return service.WithLogger(logger.GetGlobalLogger()), st, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "reconciler %s\n", getVersionString())
			return nil
		},
	}
}
