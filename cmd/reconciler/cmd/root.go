package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"settlement-reconciler/cmd/reconciler/config"
	"settlement-reconciler/pkg/logger"
)

var (
	cfgFile string
	envFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Marketplace settlement reconciliation tool",
	Long: `Reconciler joins a marketplace order report (MTR) with a payment settlement
report, sorts orders into buckets such as returns and pending payments, and flags
payouts that fall below the expected share of the invoice.

Examples:
  reconciler reconcile --order-report mtr.xlsx --payment-report payments.csv
  reconciler reconcile -m mtr.xlsx -p payments.csv --output-format json -o report.json
  reconciler serve --addr :8000
  reconciler version`,
	Version:       getVersionString(),
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler(os.Stderr).HandleError(err)
	}
	return 0
}

func init() {
	rootCmd.PersistentPreRunE = initConfig

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// initConfig loads the dotenv file, the config file and the environment, then
// installs the global logger.
func initConfig(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := gotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.GetViper()
	config.SetDefaults(v)
	v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose"))

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	log, err := logger.NewLogger(config.CreateLoggerConfig(v))
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithField("config_file", v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
